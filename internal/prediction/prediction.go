// Package prediction turns a trained crowd model, or a meal-aware heuristic
// when no model is usable, into upcoming 15-minute crowd forecasts.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"smartmess-backend/config"
	"smartmess-backend/internal/artifact"
	"smartmess-backend/internal/crowdmodel"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/store"
)

// Prediction sources reported to clients.
const (
	SourceModel    = "ml-model"
	SourceFallback = "fallback"
)

// Confidence levels.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// ModelSource loads trained models by key.
type ModelSource interface {
	Load(ctx context.Context, key string) (*crowdmodel.Model, error)
}

// Request describes what the caller wants predicted.
type Request struct {
	MessID   string
	Meal     mealtime.Meal
	Capacity int
	DevMode  bool
}

// Slot is the forecast for one 15-minute bucket.
type Slot struct {
	TimeSlot        string  `json:"time_slot"`
	Time24h         string  `json:"time_24h"`
	PredictedCrowd  int     `json:"predicted_crowd"`
	CrowdPercentage float64 `json:"crowd_percentage"`
	Capacity        int     `json:"capacity"`
	Confidence      string  `json:"confidence"`
	Recommendation  string  `json:"recommendation"`
}

// Result is the full answer to a prediction request.
type Result struct {
	MessID            string    `json:"messId"`
	MealType          string    `json:"mealType"`
	Source            string    `json:"source,omitempty"`
	Fallback          bool      `json:"fallback"`
	Capacity          int       `json:"capacity"`
	CurrentCrowd      int64     `json:"current_crowd"`
	CurrentPercentage float64   `json:"current_percentage"`
	Predictions       []Slot    `json:"predictions"`
	BestSlot          *Slot     `json:"best_slot,omitempty"`
	ModelKey          string    `json:"model_key,omitempty"`
	Warning           string    `json:"warning,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Service produces predictions.
type Service struct {
	store   store.Store
	models  ModelSource
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker[*crowdmodel.Model]
	cfg     config.PredictionConfig
	loc     *time.Location
	now     func() time.Time

	// generations is bumped per mess by Invalidate; a load that straddles
	// an invalidation is not cached.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewService creates a prediction service evaluating meal windows in loc.
func NewService(s store.Store, models ModelSource, cfg config.PredictionConfig, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	ttl := time.Duration(cfg.ModelCacheMinutes) * time.Minute
	svc := &Service{
		store:  s,
		models: models,
		cache:  cache.New(ttl, 2*ttl),
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,

		generations: make(map[string]uint64),
	}

	metrics.CircuitBreakerState.WithLabelValues("model-store").Set(0)
	svc.breaker = gobreaker.NewCircuitBreaker[*crowdmodel.Model](gobreaker.Settings{
		Name:        "model-store",
		MaxRequests: 1,
		Interval:    time.Duration(cfg.BreakerIntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		// A key with no trained model is an answer, not a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, artifact.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return svc
}

// SetClock replaces the wall clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time in the campus location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Invalidate drops cached models for a mess so the next request reloads them.
func (s *Service) Invalidate(messID string) {
	s.mu.Lock()
	s.generations[messID]++
	s.mu.Unlock()

	s.cache.Delete(crowdmodel.Key(messID, ""))
	for _, m := range mealtime.All {
		s.cache.Delete(crowdmodel.Key(messID, string(m)))
	}
}

// Predict forecasts crowd levels for the upcoming slots of a meal.
func (s *Service) Predict(ctx context.Context, req Request) (*Result, error) {
	now := s.Now()

	meal := req.Meal
	if meal == mealtime.None {
		meal = mealtime.Current(now)
	}
	if meal == mealtime.None && req.DevMode {
		meal = mealtime.Lunch
	}

	res := &Result{
		MessID:      req.MessID,
		MealType:    string(meal),
		Predictions: []Slot{},
		Timestamp:   now,
	}
	if meal == mealtime.None {
		metrics.Predictions.WithLabelValues("closed").Inc()
		res.Warning = "Mess is closed. Predictions are available during meal hours only."
		return res, nil
	}

	res.Capacity = s.capacity(ctx, req)

	count, err := s.store.CountAttendance(ctx, req.MessID, mealtime.Date(now), string(meal))
	if err != nil {
		log.Printf("Error counting attendance for %s/%s: %v", req.MessID, meal, err)
		count = 0
	}
	res.CurrentCrowd = count
	res.CurrentPercentage = round1(float64(count) / float64(res.Capacity) * 100)

	anchor := now
	if req.DevMode {
		if start, _, ok := mealtime.Bounds(now, meal); ok {
			anchor = start.Add(-time.Second)
		}
	}

	if m := s.lookupModel(ctx, req.MessID, meal); m != nil {
		slots, err := s.modelSlots(m, anchor, meal, res.Capacity)
		if err != nil {
			log.Printf("Model prediction failed for %s: %v", m.Key, err)
		} else if len(slots) > 0 {
			res.Source = SourceModel
			res.ModelKey = m.Key
			res.Predictions = slots
		}
	}
	if res.Source == "" {
		res.Source = SourceFallback
		res.Fallback = true
		res.Predictions = FallbackSlots(anchor, meal, res.Capacity, s.cfg.FallbackSlots)
	}
	metrics.Predictions.WithLabelValues(res.Source).Inc()

	res.BestSlot = BestSlot(res.Predictions)
	return res, nil
}

func (s *Service) capacity(ctx context.Context, req Request) int {
	if req.Capacity > 0 {
		return req.Capacity
	}
	mess, err := s.store.GetMess(ctx, req.MessID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Error loading mess %s: %v", req.MessID, err)
		}
		return s.defaultCapacity()
	}
	if mess.Capacity > 0 {
		return mess.Capacity
	}
	return s.defaultCapacity()
}

func (s *Service) defaultCapacity() int {
	if s.cfg.DefaultCapacity > 0 {
		return s.cfg.DefaultCapacity
	}
	return 100
}

// lookupModel prefers a meal specific model and falls back to the mess wide one.
func (s *Service) lookupModel(ctx context.Context, messID string, meal mealtime.Meal) *crowdmodel.Model {
	for _, key := range []string{crowdmodel.Key(messID, string(meal)), crowdmodel.Key(messID, "")} {
		if cached, ok := s.cache.Get(key); ok {
			metrics.ModelCacheHits.Inc()
			if m, _ := cached.(*crowdmodel.Model); m != nil {
				return m
			}
			continue
		}
		metrics.ModelCacheMisses.Inc()

		gen := s.generation(messID)
		m, err := s.breaker.Execute(func() (*crowdmodel.Model, error) {
			return s.models.Load(ctx, key)
		})
		switch {
		case err == nil:
			s.cacheModel(messID, gen, key, m)
			return m
		case errors.Is(err, artifact.ErrNotFound):
			// Remember the miss so we do not hit the store on every request.
			s.cacheModel(messID, gen, key, nil)
		default:
			log.Printf("Error loading model %s: %v", key, err)
			return nil
		}
	}
	return nil
}

func (s *Service) generation(messID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[messID]
}

// cacheModel stores a load result unless the mess was invalidated since gen.
func (s *Service) cacheModel(messID string, gen uint64, key string, m *crowdmodel.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[messID] == gen {
		s.cache.SetDefault(key, m)
	}
}

func (s *Service) modelSlots(m *crowdmodel.Model, anchor time.Time, meal mealtime.Meal, capacity int) ([]Slot, error) {
	times := mealtime.NextSlots(anchor, meal, s.cfg.MaxSlots)
	slots := make([]Slot, 0, len(times))
	for i, t := range times {
		raw, err := m.Predict(t.Hour(), mealtime.Weekday(t), meal.Code())
		if err != nil {
			return nil, err
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return nil, fmt.Errorf("model %s produced non-finite output %v", m.Key, raw)
		}
		count := int(math.Max(0, raw))
		count = int(float64(count) * (1 + 0.02*float64(i)))
		if count > capacity {
			count = capacity
		}
		slots = append(slots, newSlot(t, count, capacity, ConfidenceHigh))
	}
	return slots, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
