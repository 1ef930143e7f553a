package castadapter

import (
	"errors"
	"fmt"
)

// Caller ordering and precondition violations. All are recoverable by
// the caller; none leave the adapter in a partial state.
var (
	ErrNotInitialized  = errors.New("castadapter: adapter not initialized")
	ErrNoSession       = errors.New("castadapter: no session handle held")
	ErrNoActiveSession = errors.New("castadapter: no active session to end")
	ErrDestroyed       = errors.New("castadapter: adapter destroyed")
)

// BootstrapError reports a failed SDK bootstrap attempt. The attempt
// itself is fatal, but the adapter stays uninitialized and Initialize
// may simply be called again.
type BootstrapError struct {
	Stage string
	Err   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s: %v", e.Stage, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// CommandError wraps an SDK rejection of a delegated command. Op is
// one of "send", "request-session" or "end-session". Commands are
// never retried automatically.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
