package errors

import "errors"

// ErrInvalidInput marks rejected configuration or arguments.
var ErrInvalidInput = errors.New("invalid input provided")

// Thread lifecycle errors.
var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// thread's current state, e.g. Start on a thread that is already started.
	ErrInvalidState = errors.New("invalid thread state")

	// ErrThreadCreation is returned by Start when the runtime refused to
	// create the thread. The underlying cause is wrapped alongside it.
	ErrThreadCreation = errors.New("thread creation failed")

	// ErrJoinFailure marks a failed wait for thread completion.
	ErrJoinFailure = errors.New("joining thread failed")

	// ErrDetachFailure marks a failed detach.
	ErrDetachFailure = errors.New("detaching thread failed")

	// ErrResourceExhausted is returned by spawners that have reached their limit.
	ErrResourceExhausted = errors.New("thread resources exhausted")

	// ErrHandleReleased is returned by a handle that was already joined or detached.
	ErrHandleReleased = errors.New("thread handle already released")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
