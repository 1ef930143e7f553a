package castadapter

import "context"

// DeviceContext is the narrow surface of the underlying Cast SDK the
// Manager drives. The production implementation wraps
// vishen/go-chromecast; tests substitute the adaptertest fakes. The
// Manager never reaches past this surface, so protocol semantics stay
// fully delegated to the SDK.
type DeviceContext interface {
	// Ready reports whether a receiver status has been observed,
	// meaning the SDK surface is usable without further bring-up.
	Ready() bool

	// Connect establishes the sender transport to the device.
	Connect() error

	// AwaitDevice blocks until the device has produced its first
	// message, or ctx expires.
	AwaitDevice(ctx context.Context) error

	// Refresh asks the SDK for a fresh receiver status.
	Refresh() error

	// Connectivity returns the SDK's current connectivity value.
	Connectivity() ConnectivityState

	// CurrentSession returns the running receiver session, if any.
	CurrentSession() (Session, bool)

	// RequestSession launches the given receiver application. The
	// resulting session surfaces through OnSessionChanged, not the
	// return value.
	RequestSession(receiverAppID string) error

	// EndSession stops the running receiver application.
	EndSession() error

	// OnConnectivityChanged and OnSessionChanged register the native
	// listeners. At most one of each; a second call replaces the
	// first.
	OnConnectivityChanged(fn func(ConnectivityState))
	OnSessionChanged(fn func(SessionState))

	// Close releases the transport. The context is not reusable.
	Close() error
}

// Session is the opaque capability handle for one running receiver
// session, exclusively owned by the Manager while active.
type Session interface {
	// ID is the SDK-assigned session identifier.
	ID() string

	// Send serializes payload onto namespace for this session.
	Send(namespace string, payload any) error

	// OnMessage installs fn as the handler for inbound messages on
	// namespace, replacing any previous handler.
	OnMessage(namespace string, fn func(raw []byte)) error
}
