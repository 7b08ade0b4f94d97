package model

import "time"

// Model training statuses.
const (
	StatusTrained = "trained"
	StatusFailed  = "failed"
)

// ModelMetadata tracks the latest training run for a model key.
type ModelMetadata struct {
	ModelKey      string     `gorm:"primaryKey;size:128" json:"modelKey"`
	MessID        string     `gorm:"size:64;not null;index" json:"messId"`
	Meal          string     `gorm:"size:16" json:"mealType,omitempty"`
	LastTrainedAt *time.Time `json:"lastTrainedAt"`
	RecordsUsed   int        `json:"recordsUsed"`
	Samples       int        `json:"trainingSamples"`
	FinalLoss     float64    `json:"finalLoss"`
	FinalMAE      float64    `json:"finalMae"`
	Status        string     `gorm:"size:16;not null" json:"status"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
