// Package training builds crowd models from recorded attendance and keeps
// them fresh.
package training

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"smartmess-backend/config"
	"smartmess-backend/internal/crowdmodel"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

// ErrAlreadyRunning is returned when the same mess and meal is already training.
var ErrAlreadyRunning = errors.New("training already in progress")

// ModelSaver persists trained models.
type ModelSaver interface {
	Save(ctx context.Context, m *crowdmodel.Model) error
}

// Invalidator is told when a mess has a new model.
type Invalidator interface {
	Invalidate(messID string)
}

// Outcome describes a finished training run.
type Outcome struct {
	ModelKey    string            `json:"modelKey"`
	RecordsUsed int               `json:"recordsUsed"`
	Report      crowdmodel.Report `json:"report"`
	TrainedAt   time.Time         `json:"trainedAt"`
}

// Trainer runs training jobs, at most one per mess and meal at a time.
type Trainer struct {
	store       store.Store
	models      ModelSaver
	invalidator Invalidator
	cfg         config.TrainingConfig
	loc         *time.Location
	now         func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewTrainer creates a trainer. invalidator may be nil.
func NewTrainer(s store.Store, models ModelSaver, invalidator Invalidator, cfg config.TrainingConfig, loc *time.Location) *Trainer {
	if loc == nil {
		loc = time.Local
	}
	return &Trainer{
		store:       s,
		models:      models,
		invalidator: invalidator,
		cfg:         cfg,
		loc:         loc,
		now:         time.Now,
		running:     make(map[string]struct{}),
	}
}

// SetClock replaces the wall clock.
func (t *Trainer) SetClock(now func() time.Time) {
	t.now = now
}

func guardKey(messID string, meal mealtime.Meal) string {
	if meal == mealtime.None {
		return messID + ":all"
	}
	return messID + ":" + string(meal)
}

func (t *Trainer) acquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.running[key]; busy {
		return false
	}
	t.running[key] = struct{}{}
	metrics.TrainingInProgress.Inc()
	return true
}

func (t *Trainer) release(key string) {
	t.mu.Lock()
	delete(t.running, key)
	t.mu.Unlock()
	metrics.TrainingInProgress.Dec()
}

// InProgress reports whether a run for the mess and meal is executing.
func (t *Trainer) InProgress(messID string, meal mealtime.Meal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.running[guardKey(messID, meal)]
	return busy
}

// TrainAsync starts training in the background. It returns false when a
// run for the same mess and meal is already in progress.
func (t *Trainer) TrainAsync(messID string, meal mealtime.Meal) bool {
	key := guardKey(messID, meal)
	if !t.acquire(key) {
		return false
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.release(key)

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout())
		defer cancel()
		if _, err := t.train(ctx, messID, meal); err != nil {
			log.Printf("Background training for %s failed: %v", key, err)
		}
	}()
	return true
}

// Wait blocks until every background run has finished.
func (t *Trainer) Wait() {
	t.wg.Wait()
}

// Train trains synchronously. An empty meal trains one model over all meals.
func (t *Trainer) Train(ctx context.Context, messID string, meal mealtime.Meal) (*Outcome, error) {
	key := guardKey(messID, meal)
	if !t.acquire(key) {
		return nil, ErrAlreadyRunning
	}
	defer t.release(key)
	return t.train(ctx, messID, meal)
}

func (t *Trainer) train(ctx context.Context, messID string, meal mealtime.Meal) (*Outcome, error) {
	started := time.Now()
	now := t.now().In(t.loc)
	modelKey := crowdmodel.Key(messID, string(meal))
	log.Printf("Training model %s...", modelKey)

	fromDate := mealtime.Date(now.AddDate(0, 0, -t.cfg.LookbackDays))
	rows, err := t.store.AttendanceSince(ctx, messID, string(meal), fromDate)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load attendance for %s: %w", modelKey, err)
	}
	if len(rows) < t.cfg.MinRecords {
		metrics.TrainingRuns.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%w: %s has %d attendance records, need %d",
			crowdmodel.ErrInsufficientData, modelKey, len(rows), t.cfg.MinRecords)
	}

	samples := BuildSamples(rows, t.loc)
	m, err := crowdmodel.Train(messID, string(meal), samples, t.options(), now)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		t.recordFailure(ctx, messID, meal, len(rows))
		return nil, fmt.Errorf("failed to train %s: %w", modelKey, err)
	}

	if err := t.models.Save(ctx, m); err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		t.recordFailure(ctx, messID, meal, len(rows))
		return nil, fmt.Errorf("failed to save model %s: %w", modelKey, err)
	}

	trainedAt := now
	meta := &model.ModelMetadata{
		ModelKey:      modelKey,
		MessID:        messID,
		Meal:          string(meal),
		LastTrainedAt: &trainedAt,
		RecordsUsed:   len(rows),
		Samples:       m.Report.Samples,
		FinalLoss:     m.Report.FinalLoss,
		FinalMAE:      m.Report.FinalMAE,
		Status:        model.StatusTrained,
	}
	if err := t.store.SaveModelMetadata(ctx, meta); err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save metadata for %s: %w", modelKey, err)
	}

	if t.invalidator != nil {
		t.invalidator.Invalidate(messID)
	}

	metrics.TrainingRuns.WithLabelValues("trained").Inc()
	metrics.TrainingDuration.Observe(time.Since(started).Seconds())
	log.Printf("Model %s trained on %d records (%d samples), final loss %.3f, MAE %.3f",
		modelKey, len(rows), m.Report.Samples, m.Report.FinalLoss, m.Report.FinalMAE)

	return &Outcome{
		ModelKey:    modelKey,
		RecordsUsed: len(rows),
		Report:      m.Report,
		TrainedAt:   now,
	}, nil
}

// recordFailure marks the model's metadata as failed. The last successful
// training time and its report are kept, so a previous model still counts
// as fresh.
func (t *Trainer) recordFailure(ctx context.Context, messID string, meal mealtime.Meal, records int) {
	modelKey := crowdmodel.Key(messID, string(meal))
	meta, err := t.store.GetModelMetadata(ctx, modelKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		meta = &model.ModelMetadata{ModelKey: modelKey, MessID: messID, Meal: string(meal)}
	case err != nil:
		log.Printf("Could not read metadata for %s: %v", modelKey, err)
		return
	}
	meta.RecordsUsed = records
	meta.Status = model.StatusFailed
	if err := t.store.SaveModelMetadata(ctx, meta); err != nil {
		log.Printf("Could not record failed training for %s: %v", modelKey, err)
	}
}

func (t *Trainer) options() crowdmodel.Options {
	return crowdmodel.Options{
		Hidden:          t.cfg.Hidden,
		Epochs:          t.cfg.Epochs,
		BatchSize:       t.cfg.BatchSize,
		LearningRate:    t.cfg.LearningRate,
		ValidationSplit: t.cfg.ValidationSplit,
		Dropout:         t.cfg.Dropout,
		Seed:            t.cfg.Seed,
		MinSamples:      1,
	}
}

// BuildSamples counts attendance per meal and 15-minute slot. Each occupied
// slot becomes one sample whose target is the number of students seen in it.
// Rows with an unknown meal are skipped. Samples are ordered by slot time.
func BuildSamples(rows []model.Attendance, loc *time.Location) []crowdmodel.Sample {
	type bucket struct {
		slot time.Time
		meal mealtime.Meal
	}
	counts := make(map[bucket]int)
	for _, r := range rows {
		meal := mealtime.Meal(r.Meal)
		if meal.Code() < 0 {
			continue
		}
		counts[bucket{slot: mealtime.FloorToSlot(r.MarkedAt.In(loc)), meal: meal}]++
	}

	keys := make([]bucket, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].slot.Equal(keys[j].slot) {
			return keys[i].meal.Code() < keys[j].meal.Code()
		}
		return keys[i].slot.Before(keys[j].slot)
	})

	samples := make([]crowdmodel.Sample, len(keys))
	for i, k := range keys {
		samples[i] = crowdmodel.Sample{
			Features: crowdmodel.Features(k.slot.Hour(), mealtime.Weekday(k.slot), k.meal.Code()),
			Target:   float64(counts[k]),
		}
	}
	return samples
}
