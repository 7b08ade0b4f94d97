// Package retention periodically prunes QR codes and archives old attendance.
package retention

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"smartmess-backend/config"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/store"
)

// Report summarises one sweep.
type Report struct {
	QRCodesDeleted     int64
	AttendanceArchived int64
}

// Sweeper is the retention service.
type Sweeper struct {
	store store.Store
	cfg   config.RetentionConfig
	loc   *time.Location
	now   func() time.Time
}

// NewSweeper creates a retention service.
func NewSweeper(s store.Store, cfg config.RetentionConfig, loc *time.Location) *Sweeper {
	if loc == nil {
		loc = time.Local
	}
	return &Sweeper{store: s, cfg: cfg, loc: loc, now: time.Now}
}

// SetClock replaces the wall clock.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Serve sweeps once immediately and then on every interval until ctx ends.
func (s *Sweeper) Serve(ctx context.Context) error {
	log.Println("Starting retention sweeper...")
	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Retention sweeper shutting down.")
			return ctx.Err()
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval())
		}
	}
}

func (s *Sweeper) String() string {
	return "retention-sweeper"
}

// SweepOnce runs every retention step. A failing step is logged and the
// remaining steps still run.
func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	now := s.now().In(s.loc)
	var report Report

	qrCutoff := now.AddDate(0, 0, -s.cfg.QRCodeDays)
	if n, err := s.store.DeleteQRCodesBefore(ctx, qrCutoff); err != nil {
		log.Printf("Retention: failed to delete old QR codes: %v", err)
	} else {
		report.QRCodesDeleted = n
		metrics.RetentionRemoved.WithLabelValues("qr_code").Add(float64(n))
	}

	archiveCutoff := mealtime.Date(now.AddDate(0, 0, -s.cfg.AttendanceArchiveDays))
	if n, err := s.store.ArchiveAttendanceBefore(ctx, archiveCutoff, now); err != nil {
		log.Printf("Retention: failed to archive attendance: %v", err)
	} else {
		report.AttendanceArchived = n
		metrics.RetentionRemoved.WithLabelValues("attendance").Add(float64(n))
	}

	log.Printf("Retention sweep finished: %d QR codes deleted, %d attendance rows archived",
		report.QRCodesDeleted, report.AttendanceArchived)
	return report
}
