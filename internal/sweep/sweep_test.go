package sweep

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/triad-arena/internal/evaluator"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/scheduler"
)

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) add(s string) {
	l.mu.Lock()
	l.steps = append(l.steps, s)
	l.mu.Unlock()
}

func (l *stepLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

type fakePool struct {
	log    *stepLog
	err    error
	target int
	block  chan struct{}
	hook   func()
}

func (f *fakePool) EnsurePoolTarget(_ context.Context, target int) (*pool.Result, error) {
	f.log.add("pool")
	f.target = target
	if f.hook != nil {
		f.hook()
	}
	if f.block != nil {
		<-f.block
	}
	return &pool.Result{}, f.err
}

type fakeScheduler struct {
	log  *stepLog
	hook func()
}

func (f fakeScheduler) ScheduleDuePrompts(context.Context) (*scheduler.Summary, error) {
	f.log.add("schedule")
	if f.hook != nil {
		f.hook()
	}
	return &scheduler.Summary{}, nil
}

type fakeEvaluator struct{ log *stepLog }

func (f fakeEvaluator) EvaluateExpiredTriads(context.Context) (*evaluator.Summary, error) {
	f.log.add("evaluate")
	return &evaluator.Summary{}, nil
}

func setupSweepTestDB(t *testing.T) {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		localdb.DBClient = nil
	})
}

func TestRunExecutesStepsInOrderDespiteErrors(t *testing.T) {
	setupSweepTestDB(t)
	log := &stepLog{}
	p := &fakePool{log: log, err: errors.New("generator down")}
	r := NewRunner(p, fakeScheduler{log: log}, fakeEvaluator{log}, func() int { return 7 })

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := log.snapshot(); len(got) != 3 || got[0] != "pool" || got[1] != "schedule" || got[2] != "evaluate" {
		t.Fatalf("steps: got=%v", got)
	}
	if len(result.Errors) != 1 || result.Skipped {
		t.Fatalf("unexpected result: %+v", result)
	}
	if p.target != 7 {
		t.Fatalf("target: got=%d want=7", p.target)
	}
}

func TestRunSkipsWhileLeaseHeld(t *testing.T) {
	setupSweepTestDB(t)
	log := &stepLog{}
	p := &fakePool{log: log, block: make(chan struct{})}
	r := NewRunner(p, fakeScheduler{log: log}, fakeEvaluator{log}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Run(context.Background()); err != nil {
			t.Errorf("first Run failed: %v", err)
		}
	}()

	deadline := time.After(2 * time.Second)
	for len(log.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("first sweep never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("second sweep should be skipped")
	}

	close(p.block)
	<-done
	if got := log.snapshot(); len(got) != 3 {
		t.Fatalf("only the first sweep should run steps: %v", got)
	}
}

func TestStartAndStop(t *testing.T) {
	setupSweepTestDB(t)
	log := &stepLog{}
	r := NewRunner(&fakePool{log: log}, fakeScheduler{log: log}, fakeEvaluator{log}, nil)

	r.Start(10 * time.Millisecond)
	deadline := time.After(2 * time.Second)
	for len(log.snapshot()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("ticker never ran a sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}
	r.Stop()

	n := len(log.snapshot())
	time.Sleep(30 * time.Millisecond)
	if len(log.snapshot()) != n {
		t.Fatalf("sweeps continued after Stop")
	}
}

func setClock(t *testing.T, start time.Time) *time.Time {
	t.Helper()
	clock := start
	prev := now
	now = func() time.Time { return clock }
	t.Cleanup(func() { now = prev })
	return &clock
}

func TestRunRenewsLeaseBetweenSteps(t *testing.T) {
	setupSweepTestDB(t)
	clock := setClock(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	log := &stepLog{}

	var stolen bool
	p := &fakePool{log: log, hook: func() { *clock = clock.Add(20 * time.Second) }}
	s := fakeScheduler{log: log, hook: func() {
		*clock = clock.Add(20 * time.Second)
		// 40s in: past the first TTL, but the lease was renewed after the pool step.
		stolen, _ = localdb.AcquireLease(leaseKey, "other", leaseTTL, *clock)
	}}
	r := NewRunner(p, s, fakeEvaluator{log}, nil)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stolen {
		t.Fatalf("a renewed lease must not be taken over")
	}
	if got := log.snapshot(); len(got) != 3 || len(result.Errors) != 0 {
		t.Fatalf("steps=%v errors=%v", got, result.Errors)
	}
}

func TestRunStopsWhenLeaseTakenOver(t *testing.T) {
	setupSweepTestDB(t)
	clock := setClock(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	log := &stepLog{}

	p := &fakePool{log: log, hook: func() {
		*clock = clock.Add(leaseTTL + time.Second)
		if ok, err := localdb.AcquireLease(leaseKey, "other", leaseTTL, *clock); err != nil || !ok {
			t.Errorf("expired lease should be acquirable: ok=%v err=%v", ok, err)
		}
	}}
	r := NewRunner(p, fakeScheduler{log: log}, fakeEvaluator{log}, nil)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := log.snapshot(); len(got) != 1 || got[0] != "pool" {
		t.Fatalf("later steps must not run without the lease: %v", got)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors: got=%v", result.Errors)
	}
}
