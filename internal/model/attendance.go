package model

import "time"

// Attendance marking methods.
const (
	MethodQR     = "qr"
	MethodManual = "manual"
)

// Attendance records one student eating one meal at one mess on one day.
type Attendance struct {
	ID           int64     `gorm:"primaryKey" json:"-"`
	MessID       string    `gorm:"size:64;not null;uniqueIndex:idx_attendance_key,priority:1" json:"messId"`
	Date         string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_key,priority:2;index" json:"date"`
	Meal         string    `gorm:"size:16;not null;uniqueIndex:idx_attendance_key,priority:3" json:"mealType"`
	EnrollmentID string    `gorm:"size:64;not null;uniqueIndex:idx_attendance_key,priority:4" json:"enrollmentId"`
	StudentName  string    `gorm:"size:128" json:"studentName,omitempty"`
	Method       string    `gorm:"size:16;not null" json:"method"`
	MarkedAt     time.Time `gorm:"not null;index" json:"markedAt"`
}

// AttendanceArchive is the cold copy of attendance rows past retention.
type AttendanceArchive struct {
	ID           int64     `gorm:"primaryKey"`
	MessID       string    `gorm:"size:64;not null;index"`
	Date         string    `gorm:"size:10;not null;index"`
	Meal         string    `gorm:"size:16;not null"`
	EnrollmentID string    `gorm:"size:64;not null"`
	StudentName  string    `gorm:"size:128"`
	Method       string    `gorm:"size:16;not null"`
	MarkedAt     time.Time `gorm:"not null"`
	ArchivedAt   time.Time `gorm:"not null"`
}
