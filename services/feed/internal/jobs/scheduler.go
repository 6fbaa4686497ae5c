// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/karma"
)

// Reconciler is the part of the karma engine the scheduler drives.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (karma.ReconcileReport, error)
}

type Scheduler struct {
	cron *cron.Cron
	rec  Reconciler
	log  *zap.Logger
}

// NewScheduler validates spec (standard five-field cron, or descriptors such
// as "@every 1h") and registers the karma reconciliation job. Overlapping
// runs are skipped.
func NewScheduler(spec string, rec Reconciler, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{rec: rec, log: log}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs one reconciliation pass and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.log.Info("[cron] karma reconciliation started")
	report, err := s.rec.ReconcileAll(ctx)
	if err != nil {
		s.log.Error("[cron] karma reconciliation failed", zap.Error(err))
		return
	}
	s.log.Info("[cron] karma reconciliation finished",
		zap.Int("checked", report.Checked), zap.Int("corrected", len(report.Corrected)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("job scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
