package events

// Thread lifecycle topics.
const (
	ThreadStarted         = "thread.started"
	ThreadJoined          = "thread.joined"
	ThreadDetached        = "thread.detached"
	ThreadCancelRequested = "thread.cancel_requested"
)

// LifecycleEvent is published by a thread on each state transition.
// Err is set when the transition completed with a failure (join or detach).
type LifecycleEvent struct {
	Thread string
	Topic  string
	Err    error
}

func (e LifecycleEvent) EventType() string { return e.Topic }
