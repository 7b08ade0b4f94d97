package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/mw"
	"smartmess-backend/internal/prediction"
	"smartmess-backend/internal/store"
)

// Predictor answers crowd prediction requests.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (*prediction.Result, error)
}

// TrainingStarter kicks off background model training.
type TrainingStarter interface {
	TrainAsync(messID string, meal mealtime.Meal) bool
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	predictor Predictor
	trainer   TrainingStarter
	webpush   *webpush.Options
	cache     *mw.ResponseCache
	loc       *time.Location
	now       func() time.Time
}

// Deps bundles what the handlers need. Cache may be nil.
type Deps struct {
	Store     store.Store
	Predictor Predictor
	Trainer   TrainingStarter
	WebPush   *webpush.Options
	Cache     *mw.ResponseCache
	Location  *time.Location
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	registerValidators()
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		store:     d.Store,
		predictor: d.Predictor,
		trainer:   d.Trainer,
		webpush:   d.WebPush,
		cache:     d.Cache,
		loc:       loc,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used for meal-window checks.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

func (h *Handler) localNow() time.Time {
	return h.now().In(h.loc)
}

// invalidate drops cached GET responses that depend on attendance or reviews.
func (h *Handler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate("/analytics")
	}
}

// resolveMeal picks the meal a write applies to. Outside dev mode the write
// must happen while that meal is being served.
func (h *Handler) resolveMeal(now time.Time, requested string, devMode bool) (mealtime.Meal, bool) {
	current := mealtime.Current(now)
	meal, _ := mealtime.ParseMeal(requested)

	if devMode {
		if meal != mealtime.None {
			return meal, true
		}
		if current != mealtime.None {
			return current, true
		}
		return mealtime.Lunch, true
	}

	if current == mealtime.None {
		return mealtime.None, false
	}
	if meal != mealtime.None && meal != current {
		return mealtime.None, false
	}
	return current, true
}
