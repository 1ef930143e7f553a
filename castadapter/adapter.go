// Package castadapter wraps the Go Cast SDK behind a uniform
// event-driven interface. The Manager owns one lazily-created device
// context and at most one active session handle, translating the
// SDK's native callbacks into a small, stable event vocabulary.
package castadapter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"go2tv.app/castbridge/events"
)

// Manager is the session adapter. Construct one per device with
// NewManager; it is not reusable after Destroy.
type Manager struct {
	cfg Config
	bus *events.Dispatcher
	dev DeviceContext

	initMu sync.Mutex // serializes Initialize

	mu           sync.RWMutex
	session      Session
	connectivity ConnectivityState
	hasConnState bool
	sessionState SessionState
	initialized  bool
	destroyed    bool

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// Option tweaks Manager construction.
type Option func(*Manager)

// WithDeviceContext substitutes the SDK surface. Used by tests and by
// callers that manage the device connection themselves.
func WithDeviceContext(dev DeviceContext) Option {
	return func(m *Manager) { m.dev = dev }
}

// WithLogOutput enables logging to w.
func WithLogOutput(w io.Writer) Option {
	return func(m *Manager) { m.LogOutput = w }
}

// NewManager builds an adapter bound to cfg. The configuration is
// read here, once; changing it means constructing a new Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		bus:    events.NewDispatcher(),
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.dev == nil {
		dev, err := NewChromecastContext(cfg.DeviceAddr)
		if err != nil {
			return nil, err
		}
		m.dev = dev
	}

	if cfg.AutoInitialize {
		go func() {
			if err := m.Initialize(context.Background()); err != nil {
				m.Log().Error().Err(err).Msg("auto initialize failed")
			}
		}()
	}

	return m, nil
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set. Same pattern as CastClient.Log() in go2tv's castprotocol.
func (m *Manager) Log() *zerolog.Logger {
	if m.LogOutput != nil {
		m.initLogOnce.Do(func() {
			m.Logger = zerolog.New(m.LogOutput).With().Timestamp().Logger()
		})
	}
	return &m.Logger
}

// Initialize runs the bootstrap sequence, captures any pre-existing
// session, publishes the initial connectivity state and registers the
// native listeners. Idempotent: repeat calls warn and return nil
// without re-publishing state or re-registering listeners. A failed
// attempt leaves the adapter uninitialized; calling again retries.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.mu.RLock()
	destroyed, initialized := m.destroyed, m.initialized
	m.mu.RUnlock()

	if destroyed {
		return ErrDestroyed
	}
	if initialized {
		m.Log().Warn().Msg("initialize called on an initialized adapter, ignoring")
		return nil
	}

	m.bus.Logger = *m.Log()

	boot := newBootstrapper(m.dev, m.Log())
	if err := boot.run(ctx); err != nil {
		m.Log().Error().Err(err).Msg("bootstrap failed")
		return err
	}

	m.mu.Lock()
	// Auto-join: adopt a session the receiver was already running.
	if s, ok := m.dev.CurrentSession(); ok {
		m.session = s
		m.sessionState = SessionResumed
		m.installMessageListener(s)
	}
	m.connectivity = m.dev.Connectivity()
	m.hasConnState = true
	m.initialized = true
	initial := m.connectivity
	m.mu.Unlock()

	m.bus.Publish(EventConnectivityChanged, ConnectivityEvent{State: initial})

	m.dev.OnConnectivityChanged(m.onConnectivityChanged)
	m.dev.OnSessionChanged(m.onSessionChanged)

	m.Log().Debug().Str("Connectivity", initial.String()).Msg("adapter initialized")
	return nil
}

// installMessageListener (re)installs the namespace message listener
// on s. Install failures are logged and never block initialization or
// session adoption.
func (m *Manager) installMessageListener(s Session) {
	if err := s.OnMessage(m.cfg.Namespace, m.onRawMessage); err != nil {
		m.Log().Warn().Str("Namespace", m.cfg.Namespace).Err(err).Msg("message listener install failed")
	}
}

func (m *Manager) onConnectivityChanged(state ConnectivityState) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.connectivity = state
	m.hasConnState = true
	m.mu.Unlock()

	m.bus.Publish(EventConnectivityChanged, ConnectivityEvent{State: state})
}

func (m *Manager) onSessionChanged(state SessionState) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}

	switch {
	case state.Active():
		// Refresh the handle from the context and (re)install the
		// message listener; this happens on every (re)start, not
		// merely once.
		if s, ok := m.dev.CurrentSession(); ok {
			m.session = s
			m.installMessageListener(s)
		}
	case state == SessionEnded || state == SessionNone:
		m.session = nil
	}
	m.sessionState = state
	s := m.session
	m.mu.Unlock()

	m.bus.Publish(EventSessionChanged, SessionEvent{State: state, Session: s})
}

// onRawMessage decodes one inbound namespace message. A malformed
// payload is dropped and logged; one bad message must not break the
// channel.
func (m *Manager) onRawMessage(raw []byte) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		m.Log().Warn().Str("Namespace", m.cfg.Namespace).Err(err).Msg("dropping malformed message")
		return
	}

	m.bus.Publish(EventMessage, MessageEvent{Namespace: m.cfg.Namespace, Payload: payload})
}

// SendMessage serializes payload onto the configured namespace of the
// held session. Fails with ErrNoSession when no handle is held.
func (m *Manager) SendMessage(payload any) error {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()

	if s == nil {
		return ErrNoSession
	}

	m.Log().Debug().Str("Method", "SendMessage").Str("Namespace", m.cfg.Namespace).Msg("sending message")
	if err := s.Send(m.cfg.Namespace, payload); err != nil {
		m.Log().Error().Str("Method", "SendMessage").Err(err).Msg("failed")
		return &CommandError{Op: "send", Err: err}
	}
	return nil
}

// RequestSession asks the SDK to launch the configured receiver
// application. The resulting session surfaces through the
// session-changed event, not the return value.
func (m *Manager) RequestSession() error {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}

	m.Log().Debug().Str("Method", "RequestSession").Str("AppID", m.cfg.ReceiverAppID).Msg("requesting session")
	if err := m.dev.RequestSession(m.cfg.ReceiverAppID); err != nil {
		m.Log().Error().Str("Method", "RequestSession").Err(err).Msg("failed")
		return &CommandError{Op: "request-session", Err: err}
	}
	return nil
}

// EndSession stops the running receiver application. Fails with
// ErrNoActiveSession when no handle is held.
func (m *Manager) EndSession() error {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()

	if s == nil {
		return ErrNoActiveSession
	}

	m.Log().Debug().Str("Method", "EndSession").Msg("ending session")
	if err := m.dev.EndSession(); err != nil {
		m.Log().Error().Str("Method", "EndSession").Err(err).Msg("failed")
		return &CommandError{Op: "end-session", Err: err}
	}
	return nil
}

// Connectivity returns the most recently delivered connectivity
// state. ok is false before the adapter is initialized.
func (m *Manager) Connectivity() (ConnectivityState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectivity, m.hasConnState
}

// SessionState returns the current session lifecycle state.
func (m *Manager) SessionState() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionState
}

// CurrentSession returns the held session handle, if any.
func (m *Manager) CurrentSession() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, false
	}
	return m.session, true
}

// SessionActive reports whether a session handle is held.
func (m *Manager) SessionActive() bool {
	_, ok := m.CurrentSession()
	return ok
}

// Initialized reports whether Initialize has completed successfully.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Namespace returns the configured message namespace.
func (m *Manager) Namespace() string { return m.cfg.Namespace }

// Event surface: one subscribe/unsubscribe pair per event kind. The
// projections use these rather than touching the dispatcher directly.

func (m *Manager) OnConnectivityEvent(l *events.Listener) {
	m.bus.Subscribe(EventConnectivityChanged, l)
}

func (m *Manager) OffConnectivityEvent(l *events.Listener) {
	m.bus.Unsubscribe(EventConnectivityChanged, l)
}

func (m *Manager) OnSessionEvent(l *events.Listener) {
	m.bus.Subscribe(EventSessionChanged, l)
}

func (m *Manager) OffSessionEvent(l *events.Listener) {
	m.bus.Unsubscribe(EventSessionChanged, l)
}

func (m *Manager) OnMessageEvent(l *events.Listener) {
	m.bus.Subscribe(EventMessage, l)
}

func (m *Manager) OffMessageEvent(l *events.Listener) {
	m.bus.Unsubscribe(EventMessage, l)
}

// Destroy tears the adapter down: every dispatcher registration is
// cleared, the session and context references are released and the
// initialized flag is reset. Terminal; the instance is not reusable.
// In-flight operations are not cancelled, only future listener
// delivery stops.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.initialized = false
	m.session = nil
	m.sessionState = SessionNone
	m.hasConnState = false
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()

	m.bus.Clear()

	if dev != nil {
		if err := dev.Close(); err != nil {
			m.Log().Debug().Err(err).Msg("device context close")
		}
	}
}
