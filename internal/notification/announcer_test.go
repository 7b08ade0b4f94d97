package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

type messLister struct {
	store.Store
	messes []model.Mess
}

func (m *messLister) ListMesses(ctx context.Context) ([]model.Mess, error) {
	return m.messes, nil
}

type recordingDispatcher struct {
	jobs []Job
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, job Job) bool {
	r.jobs = append(r.jobs, job)
	return true
}

func TestAnnouncerTick(t *testing.T) {
	lister := &messLister{messes: []model.Mess{{ID: "alder"}, {ID: "oak"}}}
	d := &recordingDispatcher{}
	a := NewAnnouncer(lister, d, time.UTC)

	var now time.Time
	a.SetClock(func() time.Time { return now })
	ctx := context.Background()

	now = time.Date(2025, 3, 10, 7, 20, 0, 0, time.UTC)
	assert.Equal(t, 0, a.Tick(ctx), "before breakfast")

	now = time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, 2, a.Tick(ctx), "breakfast opens")

	now = time.Date(2025, 3, 10, 7, 31, 0, 0, time.UTC)
	assert.Equal(t, 0, a.Tick(ctx), "already announced")

	now = time.Date(2025, 3, 10, 12, 10, 0, 0, time.UTC)
	assert.Equal(t, 0, a.Tick(ctx), "too long after lunch opened")

	now = time.Date(2025, 3, 11, 7, 32, 0, 0, time.UTC)
	assert.Equal(t, 2, a.Tick(ctx), "next day")

	assert.Len(t, d.jobs, 4)
	assert.Equal(t, Job{MessID: "alder", Meal: "breakfast"}, d.jobs[0])
}

func TestAnnouncerServeStopsWhenPoolIsFull(t *testing.T) {
	lister := &messLister{messes: []model.Mess{{ID: "alder"}, {ID: "oak"}, {ID: "pine"}}}
	// No workers drain the single-slot queue.
	pool := NewWorkerPool(1, lister, nil, nil)
	a := NewAnnouncer(lister, pool, time.UTC)
	a.SetClock(func() time.Time { return time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	assert.Eventually(t, func() bool { return len(pool.Jobs()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("announcer did not stop while blocked on a full queue")
	}
}

func TestDispatchGivesUpOnCancel(t *testing.T) {
	pool := NewWorkerPool(1, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	assert.True(t, pool.Dispatch(ctx, Job{MessID: "alder", Meal: mealtime.Lunch}))
	cancel()
	assert.False(t, pool.Dispatch(ctx, Job{MessID: "oak", Meal: mealtime.Lunch}))
}
