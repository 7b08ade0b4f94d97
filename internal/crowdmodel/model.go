package crowdmodel

import (
	"fmt"
	"time"
)

// FeatureNames documents the order of the input vector.
var FeatureNames = []string{"hour", "day_of_week", "meal_code"}

// Model is a trained crowd regressor together with its feature scaler.
type Model struct {
	Key       string    `json:"key"`
	MessID    string    `json:"mess_id"`
	Meal      string    `json:"meal,omitempty"`
	Features  []string  `json:"features"`
	Scaler    *Scaler   `json:"scaler"`
	Network   *Network  `json:"network"`
	TrainedAt time.Time `json:"trained_at"`
	Report    Report    `json:"report"`
}

// Key returns the artifact key of a model: the mess id, suffixed with the
// meal when the model is meal specific.
func Key(messID, meal string) string {
	if meal == "" {
		return messID
	}
	return messID + ":" + meal
}

// Features builds the raw input vector for a slot.
func Features(hour, weekday, mealCode int) []float64 {
	return []float64{float64(hour), float64(weekday), float64(mealCode)}
}

// Train fits a new model for the given mess and meal.
func Train(messID, meal string, samples []Sample, opts Options, now time.Time) (*Model, error) {
	net, scaler, report, err := Fit(samples, opts)
	if err != nil {
		return nil, err
	}
	return &Model{
		Key:       Key(messID, meal),
		MessID:    messID,
		Meal:      meal,
		Features:  FeatureNames,
		Scaler:    scaler,
		Network:   net,
		TrainedAt: now,
		Report:    report,
	}, nil
}

// Predict returns the raw regression output for one slot.
func (m *Model) Predict(hour, weekday, mealCode int) (float64, error) {
	if m.Scaler == nil || m.Network == nil || len(m.Network.Layers) == 0 {
		return 0, fmt.Errorf("model %s is incomplete", m.Key)
	}
	x := Features(hour, weekday, mealCode)
	if len(m.Scaler.Mean) != len(x) {
		return 0, fmt.Errorf("model %s expects %d features, got %d", m.Key, len(m.Scaler.Mean), len(x))
	}
	return m.Network.Predict(m.Scaler.Transform(x)), nil
}
