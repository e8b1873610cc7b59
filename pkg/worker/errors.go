package worker

import "errors"

// Pool sentinels. Returned unwrapped so callers can branch on them with
// errors.Is or direct comparison.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")

	// ErrNilProcessor is the panic value for a nil process function.
	ErrNilProcessor = errors.New("processor function cannot be nil")
)
