package castadapter

// ConnectivityState is the coarse-grained device availability and
// connection status reported by the SDK. Transitions are driven
// solely by the SDK; the adapter never computes one locally.
type ConnectivityState int

const (
	NoDevicesAvailable ConnectivityState = iota
	NotConnected
	Connecting
	Connected
)

func (s ConnectivityState) String() string {
	switch s {
	case NoDevicesAvailable:
		return "NO_DEVICES_AVAILABLE"
	case NotConnected:
		return "NOT_CONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	}
	return "UNKNOWN"
}

// SessionState is the fine-grained phase of an individual cast
// session's start/end sequence.
type SessionState int

const (
	SessionNone SessionState = iota
	SessionStarting
	SessionStarted
	SessionStartFailed
	SessionEnding
	SessionEnded
	SessionResumed
)

func (s SessionState) String() string {
	switch s {
	case SessionNone:
		return "NO_SESSION"
	case SessionStarting:
		return "SESSION_STARTING"
	case SessionStarted:
		return "SESSION_STARTED"
	case SessionStartFailed:
		return "SESSION_START_FAILED"
	case SessionEnding:
		return "SESSION_ENDING"
	case SessionEnded:
		return "SESSION_ENDED"
	case SessionResumed:
		return "SESSION_RESUMED"
	}
	return "UNKNOWN"
}

// Active reports whether a session handle is guaranteed non-nil in
// this state. Started and Resumed are the only such states.
func (s SessionState) Active() bool {
	return s == SessionStarted || s == SessionResumed
}
