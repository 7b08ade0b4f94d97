package store

// MealCount is the number of attendance rows for one meal on one date.
type MealCount struct {
	Date  string
	Meal  string
	Count int64
}

// RatingSummary aggregates review ratings for one meal.
type RatingSummary struct {
	Meal    string
	Count   int64
	Average float64
}
