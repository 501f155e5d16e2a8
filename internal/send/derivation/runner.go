// Package derivation runs cancel-and-replace background computations.
//
// Every Start bumps a generation token and cancels the previous run. A run may only
// apply its result while its token is still the latest one, so results of superseded
// runs are discarded even when they complete after newer ones.
package derivation

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/pkg/metrics"
	"github.com/Aidin1998/walletsend/pkg/observability"
)

// Runner serializes result application for one orchestrator
type Runner struct {
	kind string
	log  *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner; kind labels metrics and spans
func NewRunner(kind string, log *zap.Logger) *Runner {
	return &Runner{kind: kind, log: log.Named("derivation")}
}

// Start cancels any in-flight run and computes fn in the background. apply is called
// with the runner lock held and only if no newer run started meanwhile; it must not
// block or call back into the runner.
func Start[T any](r *Runner, ctx context.Context, fn func(context.Context) (T, error), apply func(T, error)) {
	Restart(r, ctx, nil, fn, apply)
}

// Restart is Start with invalidate applied under the runner lock in the same step
// that supersedes the previous run. Results of older inputs are withdrawn before
// the new computation begins.
func Restart[T any](r *Runner, ctx context.Context, invalidate func(), fn func(context.Context) (T, error), apply func(T, error)) {
	r.mu.Lock()
	gen := r.beginLocked()
	if invalidate != nil {
		invalidate()
	}
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.DerivationsStarted.WithLabelValues(r.kind).Inc()

	go func() {
		defer r.wg.Done()
		defer cancel()

		sctx, span := observability.Tracer().Start(rctx, "derivation."+r.kind)
		span.SetAttributes(attribute.Int64("generation", int64(gen)))
		result, err := fn(sctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		r.mu.Lock()
		defer r.mu.Unlock()

		if gen != r.gen || rctx.Err() != nil {
			metrics.DerivationsFinished.WithLabelValues(r.kind, "discarded").Inc()
			r.log.Debug("discarding superseded derivation", zap.Uint64("generation", gen))
			return
		}
		apply(result, err)
		metrics.DerivationsFinished.WithLabelValues(r.kind, "applied").Inc()
	}()
}

// Reset cancels any in-flight run and applies fn synchronously under the runner lock
func (r *Runner) Reset(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginLocked()
	if fn != nil {
		fn()
	}
}

// Cancel discards any in-flight run
func (r *Runner) Cancel() {
	r.Reset(nil)
}

// Generation returns the latest token
func (r *Runner) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Wait blocks until every started run returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) beginLocked() uint64 {
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return r.gen
}
