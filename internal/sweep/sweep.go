// Package sweep runs pool top-up, scheduling and evaluation as one pass.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nantokaworks/triad-arena/internal/evaluator"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/scheduler"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

// The lease is renewed after every step, so leaseTTL only has to cover the
// longest single step rather than the whole sweep.
const (
	leaseKey = "sweep"
	leaseTTL = 30 * time.Second
)

var now = time.Now

type PoolFiller interface {
	EnsurePoolTarget(ctx context.Context, targetCount int) (*pool.Result, error)
}

type PromptScheduler interface {
	ScheduleDuePrompts(ctx context.Context) (*scheduler.Summary, error)
}

type TriadEvaluator interface {
	EvaluateExpiredTriads(ctx context.Context) (*evaluator.Summary, error)
}

type Runner struct {
	pool      PoolFiller
	scheduler PromptScheduler
	evaluator TriadEvaluator
	target    func() int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires the three passes. target is read on every run so runtime
// settings take effect without a restart.
func NewRunner(p PoolFiller, s PromptScheduler, e TriadEvaluator, target func() int) *Runner {
	return &Runner{pool: p, scheduler: s, evaluator: e, target: target}
}

// Result describes one sweep.
type Result struct {
	Skipped    bool               `json:"skipped"`
	Pool       *pool.Result       `json:"pool,omitempty"`
	Schedule   *scheduler.Summary `json:"schedule,omitempty"`
	Evaluation *evaluator.Summary `json:"evaluation,omitempty"`
	Errors     []string           `json:"errors"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
}

// Run performs one sweep unless another one holds the sweep lease. A failing
// step is recorded and the later steps still run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := now()
	result := &Result{Errors: []string{}, StartedAt: start}

	holder, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lease holder: %w", err)
	}
	acquired, err := localdb.AcquireLease(leaseKey, holder, leaseTTL, start)
	if err != nil {
		return nil, err
	}
	if !acquired {
		result.Skipped = true
		return result, nil
	}
	defer func() {
		if err := localdb.ReleaseLease(leaseKey, holder); err != nil {
			logger.Warn("Failed to release sweep lease", zap.Error(err))
		}
	}()

	target := 0
	if r.target != nil {
		target = r.target()
	}
	if result.Pool, err = r.pool.EnsurePoolTarget(ctx, target); err != nil {
		logger.Error("Sweep pool step failed", zap.Error(err))
		result.Errors = append(result.Errors, "pool: "+err.Error())
	}
	if r.keepLease(holder, result) {
		if result.Schedule, err = r.scheduler.ScheduleDuePrompts(ctx); err != nil {
			logger.Error("Sweep schedule step failed", zap.Error(err))
			result.Errors = append(result.Errors, "schedule: "+err.Error())
		}
		if r.keepLease(holder, result) {
			if result.Evaluation, err = r.evaluator.EvaluateExpiredTriads(ctx); err != nil {
				logger.Error("Sweep evaluate step failed", zap.Error(err))
				result.Errors = append(result.Errors, "evaluate: "+err.Error())
			}
		}
	}

	result.Duration = now().Sub(start)
	logger.Info("Sweep finished",
		zap.Duration("duration", result.Duration),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// keepLease renews the sweep lease before the next step. It returns false once
// another sweep has taken the lease over; a storage error keeps going.
func (r *Runner) keepLease(holder string, result *Result) bool {
	ok, err := localdb.RenewLease(leaseKey, holder, leaseTTL, now())
	if err != nil {
		return true
	}
	if !ok {
		logger.Warn("Sweep lease lost, stopping early")
		result.Errors = append(result.Errors, "lease: taken over by another sweep")
		return false
	}
	return true
}

// Start runs a sweep every interval until Stop. A zero interval disables it.
func (r *Runner) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("Sweep ticker started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil {
					logger.Error("Scheduled sweep failed", zap.Error(err))
				}
			}
		}
	}(r.done)
}

// Stop halts the ticker and waits for an in-flight sweep.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
