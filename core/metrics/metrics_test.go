package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStartAndRelease(t *testing.T) {
	const name = "metrics-test"

	ObserveStart(name, StatusRefused)
	if got := testutil.ToFloat64(ThreadsRunning.WithLabelValues(name)); got != 0 {
		t.Fatalf("refused start must not count as running, got %v", got)
	}

	ObserveStart(name, StatusSuccess)
	if got := testutil.ToFloat64(ThreadsRunning.WithLabelValues(name)); got != 1 {
		t.Fatalf("expected 1 running thread, got %v", got)
	}

	ObserveRelease(ThreadJoinCounter, name, StatusSuccess)
	if got := testutil.ToFloat64(ThreadsRunning.WithLabelValues(name)); got != 0 {
		t.Errorf("expected 0 running threads after join, got %v", got)
	}
	if got := testutil.ToFloat64(ThreadJoinCounter.WithLabelValues(name, StatusSuccess)); got != 1 {
		t.Errorf("expected 1 successful join, got %v", got)
	}
	if got := testutil.ToFloat64(ThreadStartCounter.WithLabelValues(name, StatusRefused)); got != 1 {
		t.Errorf("expected 1 refused start, got %v", got)
	}
}
