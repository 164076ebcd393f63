package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs SweepNow on a fixed interval.
type Sweeper struct {
	ledger   *InventoryLedger
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(ledger *InventoryLedger, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{ledger: ledger, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ledger.SweepNow(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Expiry sweep failed", zap.Error(err))
			}
		}
	}
}
