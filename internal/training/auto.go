package training

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/crowdmodel"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/store"
)

// AutoTrainer periodically retrains mess wide models that are missing or stale.
type AutoTrainer struct {
	trainer  *Trainer
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
}

// NewAutoTrainer creates the periodic retraining service.
func NewAutoTrainer(t *Trainer, s store.Store) *AutoTrainer {
	return &AutoTrainer{
		trainer:  t,
		store:    s,
		interval: t.cfg.CheckInterval(),
		maxAge:   time.Duration(t.cfg.RetrainAfterDays) * 24 * time.Hour,
	}
}

// Serve runs a check immediately and then once per interval until ctx ends.
func (a *AutoTrainer) Serve(ctx context.Context) error {
	log.Println("Starting auto-trainer...")
	a.CheckOnce(ctx)

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Auto-trainer shutting down.")
			return ctx.Err()
		case <-timer.C:
			a.CheckOnce(ctx)
			timer.Reset(a.interval)
		}
	}
}

func (a *AutoTrainer) String() string {
	return "auto-trainer"
}

// CheckOnce retrains every mess whose model needs it and returns the ids
// that were trained successfully.
func (a *AutoTrainer) CheckOnce(ctx context.Context) []string {
	messes, err := a.store.ListMesses(ctx)
	if err != nil {
		log.Printf("Auto-trainer could not list messes: %v", err)
		return nil
	}

	var trained []string
	for _, mess := range messes {
		if ctx.Err() != nil {
			break
		}
		if !a.needsTraining(ctx, mess.ID) {
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, a.trainer.cfg.Timeout())
		_, err := a.trainer.Train(runCtx, mess.ID, mealtime.None)
		cancel()
		switch {
		case err == nil:
			trained = append(trained, mess.ID)
		case errors.Is(err, crowdmodel.ErrInsufficientData), errors.Is(err, ErrAlreadyRunning):
			log.Printf("Auto-trainer skipped %s: %v", mess.ID, err)
		default:
			log.Printf("Auto-trainer failed for %s: %v", mess.ID, err)
		}
	}
	return trained
}

func (a *AutoTrainer) needsTraining(ctx context.Context, messID string) bool {
	meta, err := a.store.GetModelMetadata(ctx, crowdmodel.Key(messID, ""))
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		log.Printf("Auto-trainer could not read metadata for %s: %v", messID, err)
		return false
	}
	if meta.LastTrainedAt == nil {
		return true
	}
	return a.trainer.now().Sub(*meta.LastTrainedAt) >= a.maxAge
}
