// Package sweeper expires overdue payment intents and purges old terminal
// ones. It never talks to the chain: expiry is a pure deadline comparison and
// purge is retention housekeeping.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starkpay/gateway/internal/app/metrics"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/app/system"
	"github.com/starkpay/gateway/pkg/logger"
)

// Config tunes the sweeper schedules.
type Config struct {
	// ExpiryInterval is how often overdue intents are expired. Defaults to
	// 2 minutes.
	ExpiryInterval time.Duration
	// PurgeSchedule is a cron expression for the purge job. Defaults to
	// "0 3 * * *" (daily at 03:00).
	PurgeSchedule string
	// Retention is how long expired and failed intents are kept before
	// deletion. Defaults to 30 days. Completed intents are never purged.
	Retention time.Duration
}

// Service runs the expiry ticker and the purge cron job.
type Service struct {
	store     storage.IntentStore
	log       *logger.Logger
	interval  time.Duration
	schedule  string
	retention time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Service)(nil)

// New constructs the sweeper.
func New(store storage.IntentStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	interval := cfg.ExpiryInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	schedule := cfg.PurgeSchedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &Service{
		store:     store,
		log:       log,
		interval:  interval,
		schedule:  schedule,
		retention: retention,
	}
}

func (s *Service) Name() string { return "sweeper" }

// Start launches the expiry ticker and schedules the purge job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() { s.PurgeOnce(runCtx) }); err != nil {
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		return err
	}
	s.cron.Start()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.ExpireOnce(runCtx)
			}
		}
	}()

	s.log.WithField("expiry_interval", s.interval.String()).
		WithField("purge_schedule", s.schedule).
		Info("sweeper started")
	return nil
}

// Stop halts both schedules, letting in-flight sweeps finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	c := s.cron
	s.running = false
	s.cancel = nil
	s.cron = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c != nil {
			<-c.Stop().Done()
		}
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("sweeper stopped")
	return nil
}

// ExpireOnce moves open intents past their deadline to expired. Errors are
// logged and the next scheduled run proceeds normally.
func (s *Service) ExpireOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("expiry sweep panicked: %v", r)
		}
	}()

	expired, err := s.store.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Warn("expiry sweep failed")
		return
	}
	if expired > 0 {
		metrics.IntentsExpired(expired)
		s.log.WithField("count", expired).Info("intents expired")
	}
}

// PurgeOnce hard-deletes expired and failed intents older than the retention
// window. Completed intents are financial records and are never deleted.
func (s *Service) PurgeOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("purge sweep panicked: %v", r)
		}
	}()

	cutoff := time.Now().UTC().Add(-s.retention)
	purged, err := s.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("purge sweep failed")
		return
	}
	if purged > 0 {
		metrics.IntentsPurged(purged)
		s.log.WithField("count", purged).
			WithField("cutoff", cutoff.Format(time.RFC3339)).
			Info("terminal intents purged")
	}
}
