package service

import (
	"context"
	"sync"
	"time"

	"deposit-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// ReconciliationSweeper periodically expires PENDING deposits whose
// settlement window has elapsed. It is the authoritative safety net for
// webhooks that never arrive and retry tasks lost to a restart.
type ReconciliationSweeper struct {
	payments ports.PaymentService
	interval time.Duration
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciliationSweeper creates a sweeper. Call Start to begin sweeping.
func NewReconciliationSweeper(payments ports.PaymentService, interval time.Duration, log zerolog.Logger) *ReconciliationSweeper {
	return &ReconciliationSweeper{payments: payments, interval: interval, log: log}
}

// Start launches the sweep loop. The first pass runs after one full
// interval.
func (s *ReconciliationSweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("reconciliation sweeper started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *ReconciliationSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("reconciliation sweeper stopped")
}

func (s *ReconciliationSweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.payments.ExpireStalePending(ctx); err != nil {
				s.log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}
