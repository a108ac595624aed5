// Package messaging implements the cooperative, bounded-queue async
// engine used to decouple the matching engine from the risk and
// execution consumers that react to its events (spec.md §4.5).
package messaging

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultCapacity = 1024

// Dispatch handles one item pulled off an Engine's queue. A returned
// error is logged and the item dropped — there is no retry, matching
// spec.md §4.5's "unknown kind: logged error, message dropped" for
// callers that route a tagged-union T through one Dispatch.
type Dispatch[T any] func(T) error

// Engine is a generic cooperative consumer: one goroutine draining a
// bounded channel, managed by a tomb.Tomb so it can be cancelled
// abruptly (Kill) or drained to completion (Stop). Generalized from
// the teacher's WorkerPool/sessionHandler pairing to a single typed
// queue per concern (risk commands, execution events) instead of one
// pool of arbitrary tasks.
type Engine[T any] struct {
	queue    chan T
	stopCh   chan struct{}
	running  atomic.Bool
	t        *tomb.Tomb
	dispatch Dispatch[T]
	name     string
}

// New constructs an Engine with the given queue capacity (defaulted if
// <= 0) and dispatch function. The engine is not yet consuming until
// Start is called.
func New[T any](name string, capacity int, dispatch Dispatch[T]) *Engine[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Engine[T]{
		queue:    make(chan T, capacity),
		stopCh:   make(chan struct{}),
		dispatch: dispatch,
		name:     name,
	}
}

// Start launches the consumer goroutine under a fresh tomb. Calling
// Start on an already-running engine is a no-op.
func (e *Engine[T]) Start() {
	if e.running.Swap(true) {
		return
	}
	e.t = new(tomb.Tomb)
	e.stopCh = make(chan struct{})
	e.t.Go(func() error {
		return e.consume()
	})
	log.Info().Str("engine", e.name).Msg("engine started")
}

func (e *Engine[T]) consume() error {
	for {
		select {
		case <-e.t.Dying():
			return nil
		default:
		}
		select {
		case <-e.t.Dying():
			return nil
		case <-e.stopCh:
			e.drain()
			return nil
		case item := <-e.queue:
			e.handle(item)
		}
	}
}

// drain processes whatever is still queued after a graceful Stop, so
// no accepted item is silently discarded.
func (e *Engine[T]) drain() {
	for {
		select {
		case item := <-e.queue:
			e.handle(item)
		default:
			return
		}
	}
}

func (e *Engine[T]) handle(item T) {
	if err := e.dispatch(item); err != nil {
		log.Error().Str("engine", e.name).Err(err).Msg("dispatch failed, message dropped")
	}
}

// Stop signals the consumer to drain the queue and exit, and blocks
// until it has. Safe to call on a non-running engine.
func (e *Engine[T]) Stop() {
	if !e.running.Swap(false) {
		return
	}
	close(e.stopCh)
	_ = e.t.Wait()
	log.Info().Str("engine", e.name).Msg("engine stopped")
}

// Kill cancels the consumer immediately via the tomb instead of
// draining it. Deliberately asymmetric with Stop: running is flipped
// false first, so the stopCh branch in consume is never reached — any
// items still in the queue at the moment of Kill are abandoned, and
// their count is logged instead of being processed. Kill returns
// without waiting for a dispatch already in progress; the consumer
// exits once that dispatch returns. Use Stop for an orderly shutdown
// and Kill only when the owning process is already failing and waiting
// for a drain is not acceptable.
func (e *Engine[T]) Kill() {
	if !e.running.Swap(false) {
		return
	}
	residual := len(e.queue)
	e.t.Kill(nil)
	if residual > 0 {
		log.Warn().Str("engine", e.name).Int("residual", residual).Msg("engine killed with items still queued")
	}
}

// Execute enqueues an item, blocking if the queue is full. Logs a
// warning when the send blocks so a saturated consumer is visible
// without Execute itself failing.
func (e *Engine[T]) Execute(item T) {
	select {
	case e.queue <- item:
	default:
		log.Warn().Str("engine", e.name).Int("qsize", len(e.queue)).Msg("queue full, blocking enqueue")
		e.queue <- item
	}
}

// Process is an alias for Execute, named separately because callers on
// the consuming side of an Engine[Event] read more naturally as
// "processing" an event than "executing" one — both enqueue.
func (e *Engine[T]) Process(item T) {
	e.Execute(item)
}

// QSize reports the number of items currently queued.
func (e *Engine[T]) QSize() int {
	return len(e.queue)
}
