// Package polling provides the fixed-interval re-derivation timer of staking orchestrators
package polling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/pkg/metrics"
)

// DefaultInterval is used when no interval is configured
const DefaultInterval = 5 * time.Second

// Timer invokes tick on a fixed interval. At most one loop runs at a time;
// Restart replaces the running loop instead of stacking a second one.
type Timer struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	log      *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTimer creates a stopped timer
func NewTimer(name string, interval time.Duration, tick func(ctx context.Context), log *zap.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log.Named("polling"),
		ctx:      context.Background(),
	}
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}

// Bind sets the context future loops run under
func (t *Timer) Bind(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
}

// Restart stops any running loop and starts a new one
func (t *Timer) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.wg.Add(1)
	go t.run(t.ctx, stopCh)
	t.log.Debug("polling started", zap.String("timer", t.name), zap.Duration("interval", t.interval))
}

// Stop stops the running loop, if any
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopLocked() {
		t.log.Debug("polling stopped", zap.String("timer", t.name))
	}
}

// Running reports whether a loop is active
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCh != nil
}

// Wait blocks until every loop exited
func (t *Timer) Wait() {
	t.wg.Wait()
}

func (t *Timer) stopLocked() bool {
	if t.stopCh == nil {
		return false
	}
	close(t.stopCh)
	t.stopCh = nil
	return true
}

func (t *Timer) run(ctx context.Context, stopCh chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			metrics.PollingTicks.Inc()
			t.tick(ctx)
		}
	}
}
