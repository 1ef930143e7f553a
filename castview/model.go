// Package castview binds a session adapter to a Bubble Tea model.
// Mounting the model subscribes it to the adapter's events and kicks
// off initialization; unmounting detaches the listeners but leaves
// the adapter itself alone, since the model never owns it.
package castview

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"go2tv.app/castbridge/castadapter"
	"go2tv.app/castbridge/events"
)

// Messages fed into Update by the event pump.
type (
	// ConnectivityMsg mirrors one connectivity-changed event.
	ConnectivityMsg struct {
		State castadapter.ConnectivityState
	}

	// SessionMsg mirrors one session-changed event.
	SessionMsg struct {
		State   castadapter.SessionState
		Session castadapter.Session
	}

	// MessageMsg mirrors one inbound namespace message.
	MessageMsg struct {
		Namespace string
		Payload   any
	}

	initResultMsg struct{ err error }
)

// eventBuffer bounds the pump queue; the UI only ever needs the tail.
const eventBuffer = 64

// Model is the terminal projection of a session adapter. The exported
// fields are the render state, refreshed on every adapter event.
type Model struct {
	Connectivity     castadapter.ConnectivityState
	HaveConnectivity bool
	SessionState     castadapter.SessionState
	SessionActive    bool
	LastMessage      any
	Initialized      bool
	InitErr          error

	mgr      *castadapter.Manager
	queue    chan tea.Msg
	autoInit bool

	connListener *events.Listener
	sessListener *events.Listener
	msgListener  *events.Listener
}

// ViewOption tweaks model construction.
type ViewOption func(*Model)

// WithoutAutoInitialize skips the Initialize command on mount, for
// adapters the caller already initialized.
func WithoutAutoInitialize() ViewOption {
	return func(m *Model) { m.autoInit = false }
}

// New builds a model over mgr. The adapter stays caller-owned: the
// model subscribes and unsubscribes but never destroys it.
func New(mgr *castadapter.Manager, opts ...ViewOption) *Model {
	m := &Model{
		mgr:      mgr,
		queue:    make(chan tea.Msg, eventBuffer),
		autoInit: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.connListener = events.NewListener(func(payload any) {
		ev := payload.(castadapter.ConnectivityEvent)
		m.push(ConnectivityMsg{State: ev.State})
	})
	m.sessListener = events.NewListener(func(payload any) {
		ev := payload.(castadapter.SessionEvent)
		m.push(SessionMsg{State: ev.State, Session: ev.Session})
	})
	m.msgListener = events.NewListener(func(payload any) {
		ev := payload.(castadapter.MessageEvent)
		m.push(MessageMsg{Namespace: ev.Namespace, Payload: ev.Payload})
	})

	return m
}

// push queues msg for the Update loop, dropping it when the UI is not
// draining. Listener callbacks must never block the adapter.
func (m *Model) push(msg tea.Msg) {
	select {
	case m.queue <- msg:
	default:
	}
}

// waitForEvent blocks until the pump has a message.
func (m *Model) waitForEvent() tea.Msg {
	return <-m.queue
}

// Init is the mount hook: it registers the listeners and, unless
// disabled, starts adapter initialization in the background.
func (m *Model) Init() tea.Cmd {
	m.mgr.OnConnectivityEvent(m.connListener)
	m.mgr.OnSessionEvent(m.sessListener)
	m.mgr.OnMessageEvent(m.msgListener)

	// Mounting twice re-registers the same listeners, which the
	// dispatcher treats as a no-op.

	cmds := []tea.Cmd{m.waitForEvent}
	if m.autoInit && !m.mgr.Initialized() {
		cmds = append(cmds, func() tea.Msg {
			return initResultMsg{err: m.mgr.Initialize(context.Background())}
		})
	}

	// Seed render state for an adapter that was already initialized.
	if state, ok := m.mgr.Connectivity(); ok {
		m.Connectivity = state
		m.HaveConnectivity = true
	}
	m.SessionState = m.mgr.SessionState()
	m.SessionActive = m.mgr.SessionActive()
	m.Initialized = m.mgr.Initialized()

	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ConnectivityMsg:
		m.Connectivity = msg.State
		m.HaveConnectivity = true
		return m, m.waitForEvent

	case SessionMsg:
		m.SessionState = msg.State
		m.SessionActive = msg.State.Active()
		return m, m.waitForEvent

	case MessageMsg:
		m.LastMessage = msg.Payload
		return m, m.waitForEvent

	case initResultMsg:
		m.InitErr = msg.err
		m.Initialized = msg.err == nil
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Unmount()
			return m, tea.Quit
		case "s":
			if err := m.mgr.RequestSession(); err != nil {
				m.InitErr = err
			}
			return m, nil
		case "e":
			if err := m.mgr.EndSession(); err != nil {
				m.InitErr = err
			}
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder

	connectivity := "UNKNOWN"
	if m.HaveConnectivity {
		connectivity = m.Connectivity.String()
	}

	fmt.Fprintf(&b, "Connectivity: %s\n", connectivity)
	fmt.Fprintf(&b, "Session:      %s\n", m.SessionState)
	if m.LastMessage != nil {
		fmt.Fprintf(&b, "Last message: %v\n", m.LastMessage)
	}
	if m.InitErr != nil {
		fmt.Fprintf(&b, "Error:        %v\n", m.InitErr)
	}
	b.WriteString("\n[s] start session  [e] end session  [q] quit\n")

	return b.String()
}

// Unmount detaches the model's listeners from the adapter. The
// adapter keeps running; a later Init mounts the model again.
func (m *Model) Unmount() {
	m.mgr.OffConnectivityEvent(m.connListener)
	m.mgr.OffSessionEvent(m.sessListener)
	m.mgr.OffMessageEvent(m.msgListener)
}
