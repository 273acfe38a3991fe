package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Collector runs one fetch-and-persist cycle.
type Collector interface {
	Collect(ctx context.Context) (models.Snapshot, error)
}

type Scheduler struct {
	ctx       context.Context
	collector Collector
	interval  time.Duration
	timeout   time.Duration
	logger    logrus.FieldLogger
	cron      *cron.Cron
}

// NewScheduler runs collector every interval. Each run gets at most timeout
// and is skipped if the previous one is still in flight.
func NewScheduler(ctx context.Context, collector Collector, interval, timeout time.Duration, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		ctx:       ctx,
		collector: collector,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.WithField("component", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", models.ErrConfiguration)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.collectData)
	if err != nil {
		return err
	}
	s.logger.WithField("interval", s.interval.String()).Info("scheduler started")
	s.cron.Start()
	return nil
}

// RunOnce performs a collection immediately, outside the schedule.
func (s *Scheduler) RunOnce() {
	s.collectData()
}

// collectData fetches a snapshot and stores it
func (s *Scheduler) collectData() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	snapshot, err := s.collector.Collect(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to collect data")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"last_seen": snapshot.Current.Time,
		"duration":  time.Since(start).String(),
	}).Debug("collection finished")
}

// Stop the scheduler and wait for a running collection to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
