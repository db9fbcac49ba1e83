package service

import (
	"context"
	"sync"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// RetryQueueConfig holds the backoff schedule.
type RetryQueueConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// InProcessRetryQueue implements ports.RetryQueue with a single worker
// goroutine, so processor callbacks never run concurrently with each other.
// Scheduled tasks do not survive a process restart; the reconciliation sweep
// covers anything lost.
type InProcessRetryQueue struct {
	cfg     RetryQueueConfig
	process ports.RetryProcessor
	audit   ports.AuditService
	log     zerolog.Logger

	ready  chan ports.RetryTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers []*time.Timer
}

// NewInProcessRetryQueue creates the queue and starts its worker.
func NewInProcessRetryQueue(cfg RetryQueueConfig, process ports.RetryProcessor, audit ports.AuditService, log zerolog.Logger) *InProcessRetryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &InProcessRetryQueue{
		cfg:     cfg,
		process: process,
		audit:   audit,
		log:     log,
		ready:   make(chan ports.RetryTask, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// ComputeDelay returns min(maxDelay, baseDelay * 2^(attempt-1)).
func (q *InProcessRetryQueue) ComputeDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Large shifts overflow; the cap applies long before 32 doublings.
	if attempt > 32 {
		return q.cfg.MaxDelay
	}
	delay := q.cfg.BaseDelay << (attempt - 1)
	if delay > q.cfg.MaxDelay || delay <= 0 {
		return q.cfg.MaxDelay
	}
	return delay
}

// Enqueue schedules the task after its backoff delay, or drops it with an
// audit trail once attempts are exhausted.
func (q *InProcessRetryQueue) Enqueue(task ports.RetryTask) {
	if task.Attempt > q.cfg.MaxRetries {
		q.log.Error().
			Str("transaction_id", task.TransactionID.String()).
			Int("attempt", task.Attempt).
			Int("max_retries", q.cfg.MaxRetries).
			Msg("retry attempts exhausted, dropping task")
		q.audit.Record(q.ctx, domain.ActorSystem, domain.AuditRetryExhausted,
			"payment_transaction", task.TransactionID.String(),
			map[string]any{"attempts": task.Attempt - 1})
		return
	}

	delay := q.ComputeDelay(task.Attempt)
	q.log.Debug().
		Str("transaction_id", task.TransactionID.String()).
		Int("attempt", task.Attempt).
		Dur("delay", delay).
		Msg("retry scheduled")

	timer := time.AfterFunc(delay, func() {
		select {
		case q.ready <- task:
		case <-q.ctx.Done():
		}
	})

	q.mu.Lock()
	q.timers = append(q.timers, timer)
	q.mu.Unlock()
}

// Stop halts further dispatch. The in-flight callback, if any, is allowed to
// finish.
func (q *InProcessRetryQueue) Stop() {
	q.cancel()
	q.mu.Lock()
	for _, t := range q.timers {
		t.Stop()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *InProcessRetryQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.ready:
			if err := q.process(q.ctx, task); err != nil {
				q.log.Warn().Err(err).
					Str("transaction_id", task.TransactionID.String()).
					Int("attempt", task.Attempt).
					Msg("retry attempt failed")
				task.Attempt++
				q.Enqueue(task)
			}
		}
	}
}
