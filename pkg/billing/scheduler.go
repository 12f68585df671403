package billing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// TierChangeScheduler periodically applies scheduled tier changes whose
// effective date has passed (cancel-at-period-end downgrades to free).
type TierChangeScheduler struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewTierChangeScheduler creates a new TierChangeScheduler
func NewTierChangeScheduler(store Store, logger *observability.Logger, metrics *observability.Metrics) *TierChangeScheduler {
	return &TierChangeScheduler{
		store:   store,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Start schedules the hourly sweep. Call Stop on shutdown.
func (s *TierChangeScheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.run); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (s *TierChangeScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce applies due tier changes immediately (exposed for startup catch-up)
func (s *TierChangeScheduler) RunOnce(ctx context.Context) {
	applied, err := s.store.ApplyDueTierChanges(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("failed to apply scheduled tier changes")
		return
	}
	if applied > 0 {
		s.logger.WithField("count", applied).Info("applied scheduled tier changes")
		if s.metrics != nil {
			s.metrics.TierChangesAppliedTotal.Add(float64(applied))
		}
	}
}

func (s *TierChangeScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.RunOnce(ctx)
}
