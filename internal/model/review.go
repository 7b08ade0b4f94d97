package model

import "time"

// Review is a student's rating of a meal.
type Review struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	MessID       string    `gorm:"size:64;not null;index:idx_review_key,priority:1" json:"messId"`
	Date         string    `gorm:"size:10;not null;index:idx_review_key,priority:2" json:"date"`
	Meal         string    `gorm:"size:16;not null;index:idx_review_key,priority:3" json:"mealType"`
	EnrollmentID string    `gorm:"size:64" json:"enrollmentId,omitempty"`
	Rating       int       `gorm:"not null" json:"rating"`
	Comment      string    `gorm:"size:1024" json:"comment"`
	SubmittedAt  time.Time `gorm:"not null" json:"submittedAt"`
}
