package thread

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"vermont/core/errors"
)

// Handle is the runtime's reference to one spawned thread.
type Handle interface {
	// Wait blocks until the thread body returns or ctx is done, and yields
	// the body's result. A context error leaves the handle waitable.
	Wait(ctx context.Context) (any, error)
	// Detach hands the thread over to the runtime. The handle cannot be
	// waited on afterwards.
	Detach() error
}

// Spawner creates threads. Spawn either starts fn(arg) concurrently and
// returns its handle, or fails without starting anything.
type Spawner interface {
	Spawn(fn Func, arg any) (Handle, error)
}

// PanicError is reported by Wait when the thread body panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("thread body panicked: %v", e.Value)
}

// GoSpawner runs each thread on its own goroutine.
type GoSpawner struct{}

func (GoSpawner) Spawn(fn Func, arg any) (Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil thread function", errors.ErrInvalidInput)
	}
	return spawn(fn, arg, nil), nil
}

func spawn(fn Func, arg any, onExit func()) *goHandle {
	h := &goHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		if onExit != nil {
			defer onExit()
		}
		defer func() {
			if r := recover(); r != nil {
				h.err = &PanicError{Value: r}
			}
		}()
		h.result = fn(arg)
	}()
	return h
}

type goHandle struct {
	done   chan struct{}
	result any
	err    error

	mu       sync.Mutex
	released bool
}

func (h *goHandle) Wait(ctx context.Context) (any, error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, errors.ErrHandleReleased
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, errors.ErrHandleReleased
	}
	h.released = true
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

func (h *goHandle) Detach() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errors.ErrHandleReleased
	}
	h.released = true
	return nil
}

// LimitedSpawner bounds the number of live threads it has spawned. A thread
// counts against the limit until its body returns, whether it was joined,
// detached or neither.
type LimitedSpawner struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewLimitedSpawner returns a spawner allowing at most limit live threads.
func NewLimitedSpawner(limit int64) (*LimitedSpawner, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: thread limit must be positive, got %d", errors.ErrInvalidInput, limit)
	}
	return &LimitedSpawner{sem: semaphore.NewWeighted(limit), limit: limit}, nil
}

// Limit returns the configured maximum of live threads.
func (s *LimitedSpawner) Limit() int64 { return s.limit }

func (s *LimitedSpawner) Spawn(fn Func, arg any) (Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil thread function", errors.ErrInvalidInput)
	}
	if !s.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: limit of %d live threads reached", errors.ErrResourceExhausted, s.limit)
	}
	return spawn(fn, arg, func() { s.sem.Release(1) }), nil
}
