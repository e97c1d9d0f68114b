// Package stream carries the events of one run from the pipeline to a wire
// protocol encoder.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ErrDetached is returned once the consumer of a run is gone.
var ErrDetached = errors.New("stream detached")

// Run is the bounded event queue of one pipeline run. Producers block while
// it is full and give up when the run is cancelled. Exactly one EOF is
// enqueued, after which further events are dropped.
type Run struct {
	events chan domain.StreamEvent
	ctx    context.Context
	cancel context.CancelFunc

	once  sync.Once
	done  atomic.Bool
	final atomic.Bool
}

// NewRun creates a run whose context derives from parent.
func NewRun(parent context.Context, bufferSize int) *Run {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &Run{
		events: make(chan domain.StreamEvent, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start creates a run and executes producer in its own goroutine. The run
// context is detached from parent's cancellation so that only the delivery
// loop decides when the client is gone. When producer returns the stream is
// finished with its error.
func Start(parent context.Context, bufferSize int, producer func(ctx context.Context, run *Run) error) *Run {
	r := NewRun(context.WithoutCancel(parent), bufferSize)
	go func() {
		r.Finish(producer(r.ctx, r))
	}()
	return r
}

// Context is cancelled when the run is cancelled.
func (r *Run) Context() context.Context {
	return r.ctx
}

// Events is the consumer side of the queue.
func (r *Run) Events() <-chan domain.StreamEvent {
	return r.events
}

// Cancel stops the producers of the run.
func (r *Run) Cancel() {
	r.cancel()
}

// Emit enqueues ev. An EOF event finishes the run.
func (r *Run) Emit(ctx context.Context, ev domain.StreamEvent) error {
	if ev.Kind == domain.StreamEOF {
		r.Finish(nil)
		return nil
	}
	if r.done.Load() {
		return ErrDetached
	}
	if err := r.send(ctx, ev); err != nil {
		return err
	}
	if ev.Kind == domain.StreamFinal {
		r.final.Store(true)
	}
	return nil
}

// Finish terminates the stream. A failed producer that never emitted a final
// text gets an error event first. Only the first call has an effect.
func (r *Run) Finish(err error) {
	r.once.Do(func() {
		if err != nil && !r.final.Load() && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrDetached) {
			_ = r.send(r.ctx, domain.ErrorEvent(err.Error()))
		}
		r.done.Store(true)
		_ = r.send(r.ctx, domain.EOF())
	})
}

func (r *Run) send(ctx context.Context, ev domain.StreamEvent) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrDetached
	}
}
