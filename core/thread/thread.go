// Package thread wraps a single concurrently running function with a strict
// lifecycle: a Thread is started once and then reconciled exactly once, by
// Join or by Detach, before it may be started again. Termination is
// cooperative; the controller sets a cancel flag and the thread body polls it.
//
// The body receives one opaque argument and returns one opaque result. A body
// that wants to observe cancellation captures its Thread:
//
//	var t *thread.Thread
//	t = thread.New(func(arg any) any {
//		for !t.CancelRequested() {
//			// work
//		}
//		return "cancelled"
//	})
//	if err := t.Start(nil); err != nil {
//		return err
//	}
//	t.RequestCancel()
//	result := t.Join()
//
// Start, Join, JoinContext, Detach and Reset are serialized; Join holds the
// controller side until the body returns. RequestCancel, CancelRequested and
// Started never block.
package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vermont/core/errors"
	"vermont/core/events"
	"vermont/core/logger"
	"vermont/core/metrics"
)

// Func is the body of a thread.
type Func func(arg any) any

const defaultName = "thread"

var tracer = otel.Tracer("vermont/core/thread")

// Option configures a Thread.
type Option func(*Thread)

// WithName sets the name used in logs, metrics, spans and events.
func WithName(name string) Option {
	return func(t *Thread) {
		if name != "" {
			t.name = name
		}
	}
}

// WithSpawner sets the runtime used to create the thread. Defaults to GoSpawner.
func WithSpawner(s Spawner) Option {
	return func(t *Thread) {
		if s != nil {
			t.spawner = s
		}
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus events.Bus) Option {
	return func(t *Thread) {
		t.bus = bus
	}
}

// Thread owns at most one running instance of its body at a time.
type Thread struct {
	fn      Func
	name    string
	spawner Spawner
	bus     events.Bus
	logCtx  context.Context

	mu      sync.Mutex
	handle  Handle // non-nil iff started
	started atomic.Bool
	cancel  atomic.Bool
}

// New returns a not-started Thread that will run fn.
func New(fn Func, opts ...Option) *Thread {
	t := &Thread{
		fn:      fn,
		name:    defaultName,
		spawner: GoSpawner{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logCtx = logger.WithComponentName(context.Background(), "thread")
	runtime.SetFinalizer(t, (*Thread).reportLeak)
	return t
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Started reports whether the thread has been started and not yet joined or detached.
func (t *Thread) Started() bool { return t.started.Load() }

// Start runs the body with arg on a new thread. It fails with
// errors.ErrInvalidState if the thread is already started, leaving the
// running thread untouched, and with errors.ErrThreadCreation if the spawner
// refused; in both cases nothing new is started.
func (t *Thread) Start(arg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, span := tracer.Start(t.logCtx, "thread.start", trace.WithAttributes(attribute.String("thread.name", t.name)))
	defer span.End()

	if t.started.Load() {
		err := fmt.Errorf("start %s: %w: already started", t.name, errors.ErrInvalidState)
		metrics.ObserveStart(t.name, metrics.StatusRefused)
		recordSpanError(span, err)
		return err
	}

	logger.Debug(t.logCtx, "Creating new thread", zap.String("thread", t.name))
	h, err := t.spawner.Spawn(t.fn, arg)
	if err == nil && h == nil {
		err = errors.New("spawner returned no handle")
	}
	if err != nil {
		err = fmt.Errorf("start %s: %w: %w", t.name, errors.ErrThreadCreation, err)
		metrics.ObserveStart(t.name, metrics.StatusFailed)
		recordSpanError(span, err)
		return err
	}

	t.handle = h
	t.started.Store(true)
	metrics.ObserveStart(t.name, metrics.StatusSuccess)
	t.publish(events.ThreadStarted, nil)
	return nil
}

// Join waits for the body to return and yields its result. It returns nil
// immediately when the thread is not started. A failed join (for instance a
// panicking body) is logged, the thread is still marked not-started, and nil
// is returned.
func (t *Thread) Join() any {
	result, _ := t.join(context.Background())
	return result
}

// JoinContext is Join with a deadline. If ctx is done before the body
// returns, it returns ctx.Err() and the thread stays started and joinable.
// Join failures are logged as with Join and also returned, matching
// errors.ErrJoinFailure.
func (t *Thread) JoinContext(ctx context.Context) (any, error) {
	return t.join(ctx)
}

func (t *Thread) join(ctx context.Context) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started.Load() {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "thread.join", trace.WithAttributes(attribute.String("thread.name", t.name)))
	defer span.End()

	var (
		result any
		err    error
	)
	if t.handle == nil {
		err = errors.ErrHandleReleased
	} else {
		result, err = t.handle.Wait(ctx)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil && errors.Is(err, ctxErr) {
			recordSpanError(span, err)
			return nil, err
		}
	}

	t.handle = nil
	t.started.Store(false)

	if err != nil {
		err = fmt.Errorf("join %s: %w: %w", t.name, errors.ErrJoinFailure, err)
		logger.Error(t.logCtx, "Joining failed", zap.String("thread", t.name), zap.Error(err))
		metrics.ObserveRelease(metrics.ThreadJoinCounter, t.name, metrics.StatusFailed)
		recordSpanError(span, err)
		t.publish(events.ThreadJoined, err)
		return nil, err
	}

	metrics.ObserveRelease(metrics.ThreadJoinCounter, t.name, metrics.StatusSuccess)
	t.publish(events.ThreadJoined, nil)
	return result, nil
}

// Detach gives up ownership of a started thread; its result is discarded.
// It returns false without side effects when the thread is not started.
// Otherwise the thread is marked not-started whatever the runtime reports,
// and the return value tells whether the runtime detach succeeded.
func (t *Thread) Detach() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started.Load() {
		return false
	}

	err := errors.ErrHandleReleased
	if t.handle != nil {
		err = t.handle.Detach()
	}
	t.handle = nil
	t.started.Store(false)

	if err != nil {
		err = fmt.Errorf("detach %s: %w: %w", t.name, errors.ErrDetachFailure, err)
		logger.Warn(t.logCtx, "Detaching failed", zap.String("thread", t.name), zap.Error(err))
		metrics.ObserveRelease(metrics.ThreadDetachCounter, t.name, metrics.StatusFailed)
		t.publish(events.ThreadDetached, err)
		return false
	}

	metrics.ObserveRelease(metrics.ThreadDetachCounter, t.name, metrics.StatusSuccess)
	t.publish(events.ThreadDetached, nil)
	return true
}

// RequestCancel asks the body to stop. It only sets the flag; the body
// decides when to observe it.
func (t *Thread) RequestCancel() {
	if t.cancel.Swap(true) {
		return
	}
	metrics.ThreadCancelCounter.WithLabelValues(t.name).Inc()
	t.publish(events.ThreadCancelRequested, nil)
}

// CancelRequested reports whether RequestCancel has been called since
// construction or the last Reset.
func (t *Thread) CancelRequested() bool { return t.cancel.Load() }

// Reset clears the cancel flag so a joined or detached thread can be started
// again with a fresh flag. It fails with errors.ErrInvalidState while the
// thread is started.
func (t *Thread) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.Load() {
		return fmt.Errorf("reset %s: %w: thread is running", t.name, errors.ErrInvalidState)
	}
	t.cancel.Store(false)
	return nil
}

func (t *Thread) publish(topic string, err error) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(context.Background(), topic, events.LifecycleEvent{Thread: t.name, Topic: topic, Err: err})
}

// reportLeak runs when a Thread is garbage collected. A thread that was
// never joined or detached is a programming error.
func (t *Thread) reportLeak() {
	if !t.started.Load() {
		return
	}
	logger.Error(t.logCtx, "Thread released without join or detach", zap.String("thread", t.name))
	metrics.ThreadLeakCounter.WithLabelValues(t.name).Inc()
	metrics.ThreadsRunning.WithLabelValues(t.name).Dec()
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
