package prediction

import (
	"math"
	"time"

	"smartmess-backend/internal/mealtime"
)

// basePercentage is the heuristic opening load of each meal.
var basePercentage = map[mealtime.Meal]float64{
	mealtime.Breakfast: 25,
	mealtime.Lunch:     40,
	mealtime.Dinner:    45,
}

// FallbackSlots is the heuristic forecast used when no model is available:
// the meal's base load rising six points per slot, capped at 90%.
func FallbackSlots(anchor time.Time, meal mealtime.Meal, capacity, limit int) []Slot {
	base, ok := basePercentage[meal]
	if !ok {
		base = 20
	}

	times := mealtime.NextSlots(anchor, meal, limit)
	slots := make([]Slot, 0, len(times))
	for i, t := range times {
		pct := math.Min(90, base+6*float64(i))
		count := int(float64(capacity) * pct / 100)
		s := newSlot(t, count, capacity, ConfidenceLow)
		s.CrowdPercentage = pct
		s.Recommendation = Recommendation(pct)
		slots = append(slots, s)
	}
	return slots
}

// Recommendation maps a crowd percentage to advice.
func Recommendation(pct float64) string {
	switch {
	case pct < 40:
		return "Good time"
	case pct < 70:
		return "Moderate crowd"
	default:
		return "Avoid if possible"
	}
}

// BestSlot returns the slot with the lowest crowd percentage, the earliest
// one on ties.
func BestSlot(slots []Slot) *Slot {
	if len(slots) == 0 {
		return nil
	}
	best := slots[0]
	for _, s := range slots[1:] {
		if s.CrowdPercentage < best.CrowdPercentage {
			best = s
		}
	}
	return &best
}

func newSlot(t time.Time, count, capacity int, confidence string) Slot {
	pct := 0.0
	if capacity > 0 {
		pct = round1(float64(count) / float64(capacity) * 100)
	}
	return Slot{
		TimeSlot:        t.Format("03:04 PM"),
		Time24h:         t.Format("15:04"),
		PredictedCrowd:  count,
		CrowdPercentage: pct,
		Capacity:        capacity,
		Confidence:      confidence,
		Recommendation:  Recommendation(pct),
	}
}
