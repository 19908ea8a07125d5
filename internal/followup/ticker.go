// Package followup hosts the recurring timer that drives the scheduler
// service's ticks.
package followup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"outreach_backend/platform/logger"
)

// Ticker runs a tick function on a fixed interval until stopped.
type Ticker struct {
	interval time.Duration
	tickFn   func(context.Context)
	log      *logger.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker creates a ticker around tickFn.
func NewTicker(interval time.Duration, tickFn func(context.Context), log *logger.Logger) (*Ticker, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Ticker{
		interval: interval,
		tickFn:   tickFn,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop. Returns false if it is already running.
func (t *Ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running.Store(true)

	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		t.log.Info("follow-up ticker started", "interval", t.interval.String())

		t.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				t.log.Info("follow-up ticker stopping")
				return
			case <-ticker.C:
				t.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.Load() {
		return false
	}

	t.cancel()
	<-t.done
	t.running.Store(false)

	t.log.Info("follow-up ticker stopped")
	return true
}

// IsRunning reports whether the loop is active.
func (t *Ticker) IsRunning() bool {
	return t.running.Load()
}

// A panicking tick must not kill the process; the next tick still runs.
func (t *Ticker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("follow-up tick panic recovered", "panic", r)
		}
	}()

	t.tickFn(ctx)
}
