package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRefused = "refused"
)

var (
	// ThreadStartCounter counts thread start attempts.
	ThreadStartCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_thread_starts_total",
		Help: "Total number of thread start attempts.",
	}, []string{"thread", "status"})

	// ThreadJoinCounter counts joins of started threads.
	ThreadJoinCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_thread_joins_total",
		Help: "Total number of thread joins.",
	}, []string{"thread", "status"})

	// ThreadDetachCounter counts detaches of started threads.
	ThreadDetachCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_thread_detaches_total",
		Help: "Total number of thread detaches.",
	}, []string{"thread", "status"})

	// ThreadCancelCounter counts cooperative cancellation requests.
	ThreadCancelCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_thread_cancels_total",
		Help: "Total number of cancellation requests.",
	}, []string{"thread"})

	// ThreadLeakCounter counts threads collected while neither joined nor detached.
	ThreadLeakCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_thread_leaks_total",
		Help: "Total number of threads released without join or detach.",
	}, []string{"thread"})

	// ThreadsRunning tracks threads currently owned by a controller.
	ThreadsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vermont_threads_running",
		Help: "Number of started threads not yet joined or detached.",
	}, []string{"thread"})

	// DBWriterRecords counts records handled by the database writer.
	DBWriterRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_dbwriter_records_total",
		Help: "Total number of records flushed by the database writer.",
	}, []string{"status"})

	// EventsDropped counts lifecycle events dropped for slow subscribers.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vermont_events_dropped_total",
		Help: "Total number of events dropped because a subscriber was full.",
	}, []string{"topic"})
)

// ObserveStart records the outcome of a thread start attempt.
func ObserveStart(thread, status string) {
	ThreadStartCounter.WithLabelValues(thread, status).Inc()
	if status == StatusSuccess {
		ThreadsRunning.WithLabelValues(thread).Inc()
	}
}

// ObserveRelease records a join or detach of a started thread.
func ObserveRelease(counter *prometheus.CounterVec, thread, status string) {
	counter.WithLabelValues(thread, status).Inc()
	ThreadsRunning.WithLabelValues(thread).Dec()
}
