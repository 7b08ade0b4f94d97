package model

import "time"

// QRCode is a one-meal attendance token displayed at a mess counter.
type QRCode struct {
	Token     string    `gorm:"primaryKey;size:36" json:"token"`
	MessID    string    `gorm:"size:64;not null" json:"messId"`
	Date      string    `gorm:"size:10;not null" json:"date"`
	Meal      string    `gorm:"size:16;not null" json:"mealType"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}
