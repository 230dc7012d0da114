package session

import "errors"

var (
	// ErrNotReady indicates the device AR subsystem is not tracking yet. The
	// start request is retained and resumes once tracking begins.
	ErrNotReady = errors.New("device tracking not ready")

	// ErrSessionNotRunning indicates an operation that requires a running
	// session was invoked in another state.
	ErrSessionNotRunning = errors.New("session is not running")

	// ErrStopInProgress indicates a start was requested while a stop had not
	// finished tearing the session down.
	ErrStopInProgress = errors.New("session stop in progress")
)
