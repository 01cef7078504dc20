// Package future provides a single-assignment result that is produced by a
// goroutine and awaited by any number of callers.
package future

import (
	"context"
	"sync"
)

// Future holds the eventual value or error of an asynchronous operation.
// The zero value is not usable; create futures with Go, Resolved or Rejected.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in a new goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Resolved returns a future that is already complete with v.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v}
	close(f.done)
	return f
}

// Rejected returns a future that is already complete with err.
func Rejected[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx is done. Giving up on
// ctx only stops the wait; the underlying operation keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (val T, ok bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		var zero T
		return zero, false, nil
	}
}

// OnDone calls fn with the outcome once it is available.
func (f *Future[T]) OnDone(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// Then derives a future by applying fn to a successful result. Errors pass
// through untouched.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Go(func() (U, error) {
		<-f.done
		if f.err != nil {
			var zero U
			return zero, f.err
		}
		return fn(f.val)
	})
}

// All waits for every future and returns their values in order, or the
// first error encountered in that order.
func All[T any](ctx context.Context, fs ...*Future[T]) ([]T, error) {
	out := make([]T, len(fs))
	for i, f := range fs {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Group tracks a set of futures so a caller can wait for all of them to
// settle regardless of outcome. Once Wait has been called the group is
// closed and later calls to Track are ignored.
type Group struct {
	mu     sync.Mutex
	n      int
	closed bool
	idle   chan struct{}
}

// Track registers done so Wait blocks until it is closed. It reports whether
// done was tracked.
func (g *Group) Track(done <-chan struct{}) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.n++
	g.mu.Unlock()

	go func() {
		<-done
		g.mu.Lock()
		g.n--
		if g.n == 0 && g.idle != nil {
			close(g.idle)
			g.idle = nil
		}
		g.mu.Unlock()
	}()
	return true
}

// Wait closes the group and blocks until every tracked future has completed.
func (g *Group) Wait() {
	g.mu.Lock()
	g.closed = true
	if g.n == 0 {
		g.mu.Unlock()
		return
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()
	<-idle
}
