package castadapter

import "go2tv.app/castbridge/events"

// The adapter's stable event vocabulary. The native SDK channels are
// re-published through the dispatcher under these three names only.
const (
	EventConnectivityChanged events.Name = "connectivity-changed"
	EventSessionChanged      events.Name = "session-changed"
	EventMessage             events.Name = "message-received"
)

// ConnectivityEvent carries the SDK's connectivity value verbatim.
type ConnectivityEvent struct {
	State ConnectivityState
}

// SessionEvent reflects a session lifecycle transition together with
// the post-transition handle. Session is nil unless State.Active().
type SessionEvent struct {
	State   SessionState
	Session Session
}

// MessageEvent is one decoded inbound message on a namespace channel.
type MessageEvent struct {
	Namespace string
	Payload   any
}
