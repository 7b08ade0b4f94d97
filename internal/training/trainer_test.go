package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartmess-backend/config"
	"smartmess-backend/internal/artifact"
	"smartmess-backend/internal/crowdmodel"
	"smartmess-backend/internal/db"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) Invalidate(messID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, messID)
}

type fixture struct {
	store       store.Store
	models      *artifact.Store
	invalidator *recordingInvalidator
	trainer     *Trainer
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	models, err := artifact.Open(config.ModelsConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { models.Close() })

	cfg := config.Default().Training
	cfg.Epochs = 5

	f := &fixture{
		store:       store.NewGormStore(gdb),
		models:      models,
		invalidator: &recordingInvalidator{},
		now:         time.Date(2025, 3, 14, 22, 0, 0, 0, time.UTC),
	}
	f.trainer = NewTrainer(f.store, models, f.invalidator, cfg, time.UTC)
	f.trainer.SetClock(func() time.Time { return f.now })
	return f
}

// seedAttendance marks n students for each day of the week before now.
func (f *fixture) seedAttendance(t *testing.T, messID string, perMeal int) {
	t.Helper()
	ctx := context.Background()
	for day := 1; day <= 3; day++ {
		date := f.now.AddDate(0, 0, -day)
		for _, meal := range mealtime.All {
			start, _, _ := mealtime.Bounds(date, meal)
			for i := 0; i < perMeal; i++ {
				require.NoError(t, f.store.MarkAttendance(ctx, &model.Attendance{
					MessID:       messID,
					Date:         mealtime.Date(date),
					Meal:         string(meal),
					EnrollmentID: fmt.Sprintf("E%03d", i),
					Method:       model.MethodManual,
					MarkedAt:     start.Add(time.Duration(i*7) * time.Minute),
				}))
			}
		}
	}
}

func TestBuildSamples(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) // Monday
	rows := []model.Attendance{
		{Meal: "lunch", MarkedAt: base.Add(1 * time.Minute)},
		{Meal: "lunch", MarkedAt: base.Add(14 * time.Minute)},
		{Meal: "lunch", MarkedAt: base.Add(15 * time.Minute)},
		{Meal: "dinner", MarkedAt: base.Add(8 * time.Hour)},
		{Meal: "brunch", MarkedAt: base},
	}

	samples := BuildSamples(rows, time.UTC)
	require.Len(t, samples, 3)
	assert.Equal(t, []float64{12, 0, 1}, samples[0].Features)
	assert.Equal(t, 2.0, samples[0].Target)
	assert.Equal(t, 1.0, samples[1].Target)
	assert.Equal(t, []float64{20, 0, 2}, samples[2].Features)
}

func TestTrainInsufficientData(t *testing.T) {
	f := newFixture(t)
	_, err := f.trainer.Train(context.Background(), "alder", mealtime.None)
	assert.True(t, errors.Is(err, crowdmodel.ErrInsufficientData))
	assert.Empty(t, f.invalidator.calls)
}

func TestTrainStoresModelAndMetadata(t *testing.T) {
	f := newFixture(t)
	f.seedAttendance(t, "alder", 4)
	ctx := context.Background()

	out, err := f.trainer.Train(ctx, "alder", mealtime.None)
	require.NoError(t, err)
	assert.Equal(t, "alder", out.ModelKey)
	assert.Equal(t, 36, out.RecordsUsed)
	assert.Greater(t, out.Report.Samples, 0)

	m, err := f.models.Load(ctx, "alder")
	require.NoError(t, err)
	_, err = m.Predict(12, 0, 1)
	assert.NoError(t, err)

	meta, err := f.store.GetModelMetadata(ctx, "alder")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTrained, meta.Status)
	assert.Equal(t, 36, meta.RecordsUsed)
	require.NotNil(t, meta.LastTrainedAt)
	assert.True(t, f.now.Equal(*meta.LastTrainedAt))

	assert.Equal(t, []string{"alder"}, f.invalidator.calls)
}

type failingSaver struct{}

func (failingSaver) Save(ctx context.Context, m *crowdmodel.Model) error {
	return errors.New("disk full")
}

func TestTrainSaveFailureRecordsFailedMetadata(t *testing.T) {
	f := newFixture(t)
	f.seedAttendance(t, "alder", 4)
	ctx := context.Background()

	_, err := f.trainer.Train(ctx, "alder", mealtime.None)
	require.NoError(t, err)
	previous, err := f.store.GetModelMetadata(ctx, "alder")
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	broken := NewTrainer(f.store, failingSaver{}, f.invalidator, f.trainer.cfg, time.UTC)
	broken.SetClock(func() time.Time { return f.now })

	_, err = broken.Train(ctx, "alder", mealtime.None)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	meta, err := f.store.GetModelMetadata(ctx, "alder")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, meta.Status)
	require.NotNil(t, meta.LastTrainedAt)
	assert.True(t, previous.LastTrainedAt.Equal(*meta.LastTrainedAt), "the last good run is kept")

	// A mess that never trained gets a failed record with no training time.
	f.seedAttendance(t, "oak", 4)
	_, err = broken.Train(ctx, "oak", mealtime.Lunch)
	require.Error(t, err)
	meta, err = f.store.GetModelMetadata(ctx, "oak:lunch")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, meta.Status)
	assert.Equal(t, "oak", meta.MessID)
	assert.Nil(t, meta.LastTrainedAt)
	assert.Equal(t, []string{"alder"}, f.invalidator.calls)
}

func TestTrainMealSpecific(t *testing.T) {
	f := newFixture(t)
	f.seedAttendance(t, "alder", 4)

	out, err := f.trainer.Train(context.Background(), "alder", mealtime.Dinner)
	require.NoError(t, err)
	assert.Equal(t, "alder:dinner", out.ModelKey)
	assert.Equal(t, 12, out.RecordsUsed)
}

func TestTrainingGuard(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.trainer.acquire(guardKey("alder", mealtime.Lunch)))

	assert.True(t, f.trainer.InProgress("alder", mealtime.Lunch))
	assert.False(t, f.trainer.TrainAsync("alder", mealtime.Lunch))
	_, err := f.trainer.Train(context.Background(), "alder", mealtime.Lunch)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	// Other keys are independent.
	assert.False(t, f.trainer.InProgress("alder", mealtime.None))

	f.trainer.release(guardKey("alder", mealtime.Lunch))
	assert.False(t, f.trainer.InProgress("alder", mealtime.Lunch))
}

func TestTrainAsync(t *testing.T) {
	f := newFixture(t)
	f.seedAttendance(t, "alder", 3)

	require.True(t, f.trainer.TrainAsync("alder", mealtime.None))
	f.trainer.Wait()

	assert.False(t, f.trainer.InProgress("alder", mealtime.None))
	meta, err := f.store.GetModelMetadata(context.Background(), "alder")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTrained, meta.Status)
}

func TestAutoTrainerCheckOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"alder", "birch", "oak", "pine"} {
		require.NoError(t, f.store.UpsertMess(ctx, &model.Mess{ID: id, Name: id, Capacity: 100}))
	}
	f.seedAttendance(t, "alder", 3)
	f.seedAttendance(t, "birch", 3)
	f.seedAttendance(t, "oak", 3)

	fresh := f.now.Add(-24 * time.Hour)
	stale := f.now.Add(-8 * 24 * time.Hour)
	require.NoError(t, f.store.SaveModelMetadata(ctx, &model.ModelMetadata{ModelKey: "birch", MessID: "birch", LastTrainedAt: &fresh, Status: model.StatusTrained}))
	require.NoError(t, f.store.SaveModelMetadata(ctx, &model.ModelMetadata{ModelKey: "oak", MessID: "oak", LastTrainedAt: &stale, Status: model.StatusTrained}))

	auto := NewAutoTrainer(f.trainer, f.store)
	trained := auto.CheckOnce(ctx)

	// alder has no model, oak is stale, birch is fresh and pine has no data.
	assert.ElementsMatch(t, []string{"alder", "oak"}, trained)
}

func TestAutoTrainerServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	auto := NewAutoTrainer(f.trainer, f.store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- auto.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-trainer did not stop")
	}
}
