package notification

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/store"
)

// openGrace is how long after a window opens an announcement is still sent.
const openGrace = 5 * time.Minute

// Dispatcher accepts announcement jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) bool
}

// Announcer watches the clock and queues one job per mess when a meal opens.
type Announcer struct {
	store      store.Store
	dispatcher Dispatcher
	loc        *time.Location
	interval   time.Duration
	now        func() time.Time

	lastDate string
	lastMeal mealtime.Meal
}

// NewAnnouncer creates an announcer that checks the clock every minute.
func NewAnnouncer(s store.Store, d Dispatcher, loc *time.Location) *Announcer {
	if loc == nil {
		loc = time.Local
	}
	return &Announcer{store: s, dispatcher: d, loc: loc, interval: time.Minute, now: time.Now}
}

// SetClock replaces the wall clock.
func (a *Announcer) SetClock(now func() time.Time) {
	a.now = now
}

// Serve ticks until ctx is cancelled.
func (a *Announcer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

func (a *Announcer) String() string {
	return "meal-announcer"
}

// Tick dispatches announcements if a meal window opened recently and has
// not been announced yet today. It returns the number of jobs queued.
func (a *Announcer) Tick(ctx context.Context) int {
	now := a.now().In(a.loc)
	meal := mealtime.Current(now)
	if meal == mealtime.None {
		return 0
	}
	start, _, _ := mealtime.Bounds(now, meal)
	if now.Sub(start) >= openGrace {
		return 0
	}

	date := mealtime.Date(now)
	if date == a.lastDate && meal == a.lastMeal {
		return 0
	}

	messes, err := a.store.ListMesses(ctx)
	if err != nil {
		log.Printf("Announcer could not list messes: %v", err)
		return 0
	}
	a.lastDate, a.lastMeal = date, meal

	queued := 0
	for _, m := range messes {
		if !a.dispatcher.Dispatch(ctx, Job{MessID: m.ID, Meal: meal}) {
			log.Printf("Announcer stopped after queuing %d of %d messes: %v", queued, len(messes), ctx.Err())
			return queued
		}
		queued++
	}
	log.Printf("Announced %s opening at %d messes", meal, queued)
	return queued
}
