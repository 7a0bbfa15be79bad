// Package sweeper periodically removes expired locks and payments from
// stores that do not expire records natively.
package sweeper

import (
	"context"
	"time"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/store"

	"go.uber.org/zap"
)

type Config struct {
	Store    store.Sweeper
	Interval time.Duration
}

type Sweeper struct {
	store    store.Sweeper
	interval time.Duration
	now      func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		store:    cfg.Store,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
	zap.L().Info("Store sweeper started", zap.Duration("interval", s.interval))
}

// Run blocks until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	s.Start(ctx)
	<-s.doneChan
	return nil
}

func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Store sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) int64 {
	purged, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if purged > 0 {
		metrics.StorePurgedTotal.Add(float64(purged))
		zap.L().Debug("Purged expired records", zap.Int64("purged", purged))
	}
	if err != nil {
		zap.L().Error("Failed to purge expired records", zap.Error(err))
	}
	return purged
}
