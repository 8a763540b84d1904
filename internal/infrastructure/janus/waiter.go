package janus

import (
	"context"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	apperrors "spacecast/pkg/errors"
)

// Predicate selects the gateway event a caller is waiting for.
type Predicate func(ev *Event) bool

type waiter struct {
	match     Predicate
	ch        chan *Event
	cancelled chan struct{}
}

// waiterRegistry holds pending waits in registration order. Each polled
// event resolves at most one waiter.
type waiterRegistry struct {
	mu      sync.Mutex
	waiters []*waiter
	closed  bool
}

// expect registers a waiter. Register before sending the request that
// triggers the event so a fast reply cannot be missed.
func (r *waiterRegistry) expect(match Predicate) *waiter {
	w := &waiter{match: match, ch: make(chan *Event, 1), cancelled: make(chan struct{})}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(w.cancelled)
		return w
	}
	r.waiters = append(r.waiters, w)
	return w
}

func (r *waiterRegistry) remove(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, candidate := range r.waiters {
		if candidate == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// dispatch hands ev to the first matching waiter and reports whether one matched.
func (r *waiterRegistry) dispatch(ev *Event) bool {
	r.mu.Lock()
	var matched *waiter
	for i, w := range r.waiters {
		if w.match(ev) {
			matched = w
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if matched == nil {
		return false
	}
	matched.ch <- ev
	return true
}

// await blocks until w resolves, the timeout fires or ctx is done.
func (r *waiterRegistry) await(ctx context.Context, w *waiter, timeout time.Duration, description string) (*Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		r.remove(w)
		return nil, apperrors.NewTimeoutError("timeout waiting for " + description).
			WithContext("timeout_ms", timeout.Milliseconds())
	case <-w.cancelled:
		return nil, apperrors.NewPreconditionError(domain.ErrClientStopped, "stopped while waiting for "+description)
	case <-ctx.Done():
		r.remove(w)
		return nil, ctx.Err()
	}
}

// waitFor registers and awaits in one step.
func (r *waiterRegistry) waitFor(ctx context.Context, match Predicate, timeout time.Duration, description string) (*Event, error) {
	return r.await(ctx, r.expect(match), timeout, description)
}

func (r *waiterRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// shutdown wakes every pending waiter with ErrClientStopped. Waiters
// registered afterwards fail immediately.
func (r *waiterRegistry) shutdown() {
	r.mu.Lock()
	pending := r.waiters
	r.waiters = nil
	r.closed = true
	r.mu.Unlock()

	for _, w := range pending {
		close(w.cancelled)
	}
}
