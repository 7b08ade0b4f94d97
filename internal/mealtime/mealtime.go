package mealtime

import (
	"fmt"
	"strings"
	"time"
)

// Meal names a daily meal service.
type Meal string

const (
	Breakfast Meal = "breakfast"
	Lunch     Meal = "lunch"
	Dinner    Meal = "dinner"
	None      Meal = ""
)

// SlotLength is the width of a prediction/analytics bucket.
const SlotLength = 15 * time.Minute

// DateLayout is the format of the date segment in attendance and review keys.
const DateLayout = "2006-01-02"

// Window is a fixed daily range expressed as minutes after midnight.
type Window struct {
	Start int
	End   int
}

var windows = map[Meal]Window{
	Breakfast: {Start: 7*60 + 30, End: 9*60 + 30},
	Lunch:     {Start: 12 * 60, End: 14 * 60},
	Dinner:    {Start: 19*60 + 30, End: 21*60 + 30},
}

// All lists meals in service order.
var All = []Meal{Breakfast, Lunch, Dinner}

// Code returns the numeric feature used by the crowd model, or -1.
func (m Meal) Code() int {
	switch m {
	case Breakfast:
		return 0
	case Lunch:
		return 1
	case Dinner:
		return 2
	}
	return -1
}

// Title is the display form of the meal name.
func (m Meal) Title() string {
	if m == None {
		return ""
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// WindowFor returns the serving window of a meal.
func WindowFor(m Meal) (Window, bool) {
	w, ok := windows[m]
	return w, ok
}

// ParseMeal validates a meal name. The empty string yields None without error.
func ParseMeal(s string) (Meal, error) {
	m := Meal(strings.ToLower(strings.TrimSpace(s)))
	if m == None {
		return None, nil
	}
	if _, ok := windows[m]; !ok {
		return None, fmt.Errorf("unknown meal type %q", s)
	}
	return m, nil
}

// Classify maps a wall-clock hour and minute to the meal being served.
// Breakfast and dinner end exclusively; lunch still counts 14:00 itself.
func Classify(hour, minute int) (Meal, int, bool) {
	switch {
	case 7 < hour && hour < 9, hour == 7 && minute >= 30, hour == 9 && minute < 30:
		return Breakfast, Breakfast.Code(), true
	case 12 <= hour && hour < 14, hour == 14 && minute == 0:
		return Lunch, Lunch.Code(), true
	case 19 < hour && hour < 21, hour == 19 && minute >= 30, hour == 21 && minute < 30:
		return Dinner, Dinner.Code(), true
	}
	return None, -1, false
}

// Current returns the meal being served at t in t's location.
func Current(t time.Time) Meal {
	m, _, _ := Classify(t.Hour(), t.Minute())
	return m
}

// Bounds returns the start and end of a meal window on t's calendar day.
func Bounds(t time.Time, m Meal) (time.Time, time.Time, bool) {
	w, ok := windows[m]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(time.Duration(w.Start) * time.Minute), midnight.Add(time.Duration(w.End) * time.Minute), true
}

// FloorToSlot truncates t to the start of its 15-minute bucket.
func FloorToSlot(t time.Time) time.Time {
	minute := (t.Minute() / 15) * 15
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// RoundUpToNextSlot returns the first slot boundary strictly after t.
func RoundUpToNextSlot(t time.Time) time.Time {
	slot := FloorToSlot(t)
	if !slot.After(t) {
		slot = slot.Add(SlotLength)
	}
	return slot
}

// NextSlots lists up to limit upcoming slot starts inside the meal window.
func NextSlots(now time.Time, m Meal, limit int) []time.Time {
	start, end, ok := Bounds(now, m)
	if !ok || now.After(end) || limit <= 0 {
		return nil
	}

	cursor := RoundUpToNextSlot(now)
	if cursor.Before(start) {
		cursor = start
	}

	var slots []time.Time
	for cursor.Before(end) && len(slots) < limit {
		slots = append(slots, cursor)
		cursor = cursor.Add(SlotLength)
	}
	return slots
}

// Weekday returns the day of week with Monday as 0.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Date formats t as a key date segment.
func Date(t time.Time) string {
	return t.Format(DateLayout)
}
