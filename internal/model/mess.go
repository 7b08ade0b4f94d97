package model

import "time"

// Mess represents a campus dining hall.
type Mess struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	Capacity     int       `gorm:"not null" json:"capacity"`
	ManagerName  string    `gorm:"size:128" json:"manager_name"`
	ManagerEmail string    `gorm:"size:256" json:"manager_email"`
	CreatedAt    time.Time `gorm:"not null" json:"-"`
	UpdatedAt    time.Time `gorm:"not null" json:"-"`
}
