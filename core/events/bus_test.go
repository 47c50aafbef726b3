package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vermont/core/metrics"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(0)
	ch, cancel, err := b.Subscribe(ThreadStarted)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Second)
	defer cancelCtx()
	b.Publish(ctx, ThreadStarted, LifecycleEvent{Thread: "writer", Topic: ThreadStarted})

	select {
	case v := <-ch:
		ev, ok := v.(LifecycleEvent)
		if !ok {
			t.Fatalf("expected LifecycleEvent, got %T", v)
		}
		if ev.Thread != "writer" || ev.EventType() != ThreadStarted {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_CancelUnsubscribe(t *testing.T) {
	b := New(0)
	ch, cancel, err := b.Subscribe("topic")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // second call is a no-op

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
	// Should not panic on publish after cancel
	b.Publish(context.Background(), "topic", LifecycleEvent{Topic: "topic"})
}

func TestBus_Close(t *testing.T) {
	b := New(0)
	ch1, _, _ := b.Subscribe("t")
	ch2, cancel2, _ := b.Subscribe("t")
	b.Close()
	cancel2() // cancel after close must not double-close

	for i, ch := range []<-chan TypedEvent{ch1, ch2} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Fatalf("expected ch%d closed", i+1)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("timeout waiting ch%d to close", i+1)
		}
	}

	if _, _, err := b.Subscribe("t"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBus_DropsForSlowSubscriber(t *testing.T) {
	const topic = "drop.test"
	b := New(1)
	defer b.Close()
	ch, cancel, _ := b.Subscribe(topic)
	defer cancel()

	before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues(topic))
	b.Publish(context.Background(), topic, LifecycleEvent{Topic: topic})
	b.Publish(context.Background(), topic, LifecycleEvent{Topic: topic})

	if got := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues(topic)) - before; got != 1 {
		t.Errorf("expected 1 dropped event, got %v", got)
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(ch))
	}
}
