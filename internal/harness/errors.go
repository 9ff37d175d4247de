package harness

import "errors"

var (
	// ErrSetup wraps failures to create the engine or register its worker.
	// Setup is never retried.
	ErrSetup = errors.New("harness setup failed")

	// ErrNotInitialized indicates a call that needs the engine before
	// Engine has created it.
	ErrNotInitialized = errors.New("engine not initialized: call Engine first")

	// ErrAlreadyShutdown indicates the harness engine was already shut down.
	ErrAlreadyShutdown = errors.New("harness already shut down")

	// ErrReplayFailed wraps errors raised while replaying a fetched history.
	ErrReplayFailed = errors.New("replay failed")
)
