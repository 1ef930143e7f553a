// Package adaptertest provides fakes for the castadapter SDK surface,
// used by the adapter and projection tests in place of a real device.
package adaptertest

import (
	"context"
	"errors"
	"sync"

	"go2tv.app/castbridge/castadapter"
)

// SentMessage records one FakeSession.Send call.
type SentMessage struct {
	Namespace string
	Payload   any
}

// FakeSession implements castadapter.Session in memory.
type FakeSession struct {
	SessionID string

	// SendErr and InstallErr, when set, fail the corresponding calls.
	SendErr    error
	InstallErr error

	mu       sync.Mutex
	sent     []SentMessage
	handlers map[string]func([]byte)
}

var _ castadapter.Session = (*FakeSession)(nil)

func NewFakeSession(id string) *FakeSession {
	return &FakeSession{
		SessionID: id,
		handlers:  make(map[string]func([]byte)),
	}
}

func (s *FakeSession) ID() string { return s.SessionID }

func (s *FakeSession) Send(namespace string, payload any) error {
	if s.SendErr != nil {
		return s.SendErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentMessage{Namespace: namespace, Payload: payload})
	return nil
}

func (s *FakeSession) OnMessage(namespace string, fn func(raw []byte)) error {
	if s.InstallErr != nil {
		return s.InstallErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[namespace] = fn
	return nil
}

// Sent returns a copy of everything sent through the session.
func (s *FakeSession) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// HasHandler reports whether a message listener is installed for
// namespace.
func (s *FakeSession) HasHandler(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[namespace] != nil
}

// Deliver simulates an inbound message on namespace. It is a no-op
// when no handler is installed.
func (s *FakeSession) Deliver(namespace string, raw []byte) {
	s.mu.Lock()
	fn := s.handlers[namespace]
	s.mu.Unlock()

	if fn != nil {
		fn(raw)
	}
}

// FakeDevice implements castadapter.DeviceContext in memory. The zero
// value of the error/latency knobs gives a device that bootstraps on
// the first refresh.
type FakeDevice struct {
	// ConnectErr, RequestErr and EndErr fail the corresponding calls.
	ConnectErr error
	RequestErr error
	EndErr     error

	// ReadyAfter is how many Refresh calls must happen after Connect
	// before Ready reports true. Zero means ready right after
	// Connect; negative means never.
	ReadyAfter int

	// AwaitBlocks makes AwaitDevice block until ctx expires.
	AwaitBlocks bool

	// State returned by Connectivity. Defaults to Connected once
	// Connect succeeds.
	ConnectivityState castadapter.ConnectivityState

	mu        sync.Mutex
	connected bool
	refreshes int
	session   castadapter.Session
	requests  []string
	connCb    func(castadapter.ConnectivityState)
	sessCb    func(castadapter.SessionState)
	closed    bool
}

var _ castadapter.DeviceContext = (*FakeDevice)(nil)

// NewFakeDevice returns a device that connects and becomes ready
// immediately.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{ConnectivityState: castadapter.Connected}
}

func (d *FakeDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected || d.ReadyAfter < 0 {
		return false
	}
	return d.refreshes >= d.ReadyAfter
}

func (d *FakeDevice) Connect() error {
	if d.ConnectErr != nil {
		return d.ConnectErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *FakeDevice) AwaitDevice(ctx context.Context) error {
	if d.AwaitBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (d *FakeDevice) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
	return nil
}

// Refreshes returns how many Refresh calls the device has seen.
func (d *FakeDevice) Refreshes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

func (d *FakeDevice) Connectivity() castadapter.ConnectivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ConnectivityState
}

func (d *FakeDevice) CurrentSession() (castadapter.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, false
	}
	return d.session, true
}

func (d *FakeDevice) RequestSession(receiverAppID string) error {
	if d.RequestErr != nil {
		return d.RequestErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, receiverAppID)
	return nil
}

func (d *FakeDevice) EndSession() error {
	if d.EndErr != nil {
		return d.EndErr
	}

	d.mu.Lock()
	d.session = nil
	cb := d.sessCb
	d.mu.Unlock()

	if cb != nil {
		cb(castadapter.SessionEnded)
	}
	return nil
}

func (d *FakeDevice) OnConnectivityChanged(fn func(castadapter.ConnectivityState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connCb = fn
}

func (d *FakeDevice) OnSessionChanged(fn func(castadapter.SessionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessCb = fn
}

func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *FakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Requests returns the receiver app IDs passed to RequestSession.
func (d *FakeDevice) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.requests))
	copy(out, d.requests)
	return out
}

// SetCurrentSession plants a session without firing any callback,
// for pre-existing-session scenarios.
func (d *FakeDevice) SetCurrentSession(s castadapter.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = s
}

// FireConnectivity simulates a native connectivity event.
func (d *FakeDevice) FireConnectivity(state castadapter.ConnectivityState) {
	d.mu.Lock()
	d.ConnectivityState = state
	cb := d.connCb
	d.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

// FireSession simulates a native session lifecycle event. The device
// exposes sess through CurrentSession for active states and drops it
// for terminal ones, mirroring the real SDK wrapper.
func (d *FakeDevice) FireSession(state castadapter.SessionState, sess castadapter.Session) {
	d.mu.Lock()
	if state.Active() {
		d.session = sess
	} else if state == castadapter.SessionEnded || state == castadapter.SessionNone {
		d.session = nil
	}
	cb := d.sessCb
	d.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

// ErrSessionGone is a convenience error for Send/End failure tests.
var ErrSessionGone = errors.New("adaptertest: session gone")
