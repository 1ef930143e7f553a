package caststream

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"go2tv.app/castbridge/castadapter"
	"go2tv.app/castbridge/events"
)

// Feed owns one session adapter and republishes its events as
// replay-latest streams. Build one with New, bring it up with
// Initialize and tear the whole thing down with Teardown; after
// Teardown every stream is completed and the Feed is not reusable.
type Feed struct {
	// Connectivity carries each connectivity state as delivered.
	Connectivity *Value[castadapter.ConnectivityState]

	// Connected collapses connectivity to a boolean.
	Connected *Value[bool]

	// Session carries session transitions with their handles.
	Session *Value[castadapter.SessionEvent]

	// Initialized flips to true once bootstrap completes.
	Initialized *Value[bool]

	// Messages carries decoded inbound namespace messages.
	Messages *Value[castadapter.MessageEvent]

	mu          sync.Mutex
	mgr         *castadapter.Manager
	initialized bool
	torndown    bool

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

func New() *Feed {
	return &Feed{
		Connectivity: NewValue[castadapter.ConnectivityState](),
		Connected:    NewValue[bool](),
		Session:      NewValue[castadapter.SessionEvent](),
		Initialized:  NewValue[bool](),
		Messages:     NewValue[castadapter.MessageEvent](),
		Logger:       zerolog.Nop(),
	}
}

func (f *Feed) Log() *zerolog.Logger {
	if f.LogOutput != nil {
		f.initLogOnce.Do(func() {
			f.Logger = zerolog.New(f.LogOutput).With().Timestamp().Logger()
		})
	}
	return &f.Logger
}

// Initialize constructs the adapter for cfg and runs its bootstrap,
// wiring every adapter event into the streams first so nothing
// published during bring-up is missed. Idempotent; repeat calls warn
// and return nil. On bootstrap failure the adapter is destroyed and
// the Feed stays uninitialized, so Initialize may be called again.
func (f *Feed) Initialize(ctx context.Context, cfg castadapter.Config, opts ...castadapter.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.torndown {
		return castadapter.ErrDestroyed
	}
	if f.initialized {
		f.Log().Warn().Msg("initialize called on an initialized feed, ignoring")
		return nil
	}

	// The feed drives initialization itself; a manager racing it in
	// the background would publish events before the streams attach.
	cfg.AutoInitialize = false

	if f.LogOutput != nil {
		opts = append(opts, castadapter.WithLogOutput(f.LogOutput))
	}

	mgr, err := castadapter.NewManager(cfg, opts...)
	if err != nil {
		return err
	}

	mgr.OnConnectivityEvent(events.NewListener(func(payload any) {
		ev := payload.(castadapter.ConnectivityEvent)
		f.Connectivity.Set(ev.State)
		f.Connected.Set(ev.State == castadapter.Connected)
	}))
	mgr.OnSessionEvent(events.NewListener(func(payload any) {
		f.Session.Set(payload.(castadapter.SessionEvent))
	}))
	mgr.OnMessageEvent(events.NewListener(func(payload any) {
		f.Messages.Set(payload.(castadapter.MessageEvent))
	}))

	if err := mgr.Initialize(ctx); err != nil {
		mgr.Destroy()
		return err
	}

	// A session adopted during bootstrap predates the listeners, so
	// seed the stream from the adapter's state.
	if state := mgr.SessionState(); state.Active() {
		s, _ := mgr.CurrentSession()
		f.Session.Set(castadapter.SessionEvent{State: state, Session: s})
	}

	f.mgr = mgr
	f.initialized = true
	f.Initialized.Set(true)
	return nil
}

func (f *Feed) manager() (*castadapter.Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return nil, castadapter.ErrNotInitialized
	}
	return f.mgr, nil
}

// RequestSession launches the configured receiver application. The
// outcome arrives on the Session stream.
func (f *Feed) RequestSession() error {
	mgr, err := f.manager()
	if err != nil {
		return err
	}
	return mgr.RequestSession()
}

// EndSession stops the running receiver application.
func (f *Feed) EndSession() error {
	mgr, err := f.manager()
	if err != nil {
		return err
	}
	return mgr.EndSession()
}

// SendMessage serializes payload onto the adapter's namespace.
func (f *Feed) SendMessage(payload any) error {
	mgr, err := f.manager()
	if err != nil {
		return err
	}
	return mgr.SendMessage(payload)
}

// Teardown destroys the underlying adapter and completes every
// stream, so consumers ranging over them fall out of their loops.
// Safe to call repeatedly and without a prior Initialize.
func (f *Feed) Teardown() {
	f.mu.Lock()
	if f.torndown {
		f.mu.Unlock()
		return
	}
	f.torndown = true
	f.initialized = false
	mgr := f.mgr
	f.mgr = nil
	f.mu.Unlock()

	if mgr != nil {
		mgr.Destroy()
	}

	f.Connectivity.Close()
	f.Connected.Close()
	f.Session.Close()
	f.Initialized.Close()
	f.Messages.Close()
}
