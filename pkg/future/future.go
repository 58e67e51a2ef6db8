// Package future provides a settle-once result handle for asynchronous work.
//
// A Future is resolved with a value or rejected with an error exactly once.
// Waiters can block on Done/Wait, or register continuations with Then; those
// run synchronously on the settling goroutine, in registration order, before
// Resolve/Reject returns.
package future

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPending is returned by Result before the future settles.
	ErrPending = errors.New("future: not settled")
	// ErrNilRejection replaces a nil error passed to Reject.
	ErrNilRejection = errors.New("future: rejected with nil error")
)

type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
	then    []func(T, error)
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports false if already settled.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. It reports false if already settled.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	var zero T
	return f.settle(zero, err)
}

// Settle resolves or rejects depending on err.
func (f *Future[T]) Settle(v T, err error) bool {
	if err != nil {
		return f.Reject(err)
	}
	return f.Resolve(v)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val = v
	f.err = err
	then := f.then
	f.then = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range then {
		fn(v, err)
	}
	return true
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settled {
		var zero T
		return zero, ErrPending
	}
	return f.val, f.err
}

// Wait blocks until the future settles or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to observe the outcome. If the future has already
// settled, fn runs immediately on the calling goroutine.
func (f *Future[T]) Then(fn func(T, error)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if !f.settled {
		f.then = append(f.then, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	fn(v, err)
}
