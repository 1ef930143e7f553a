package castadapter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go2tv.app/castbridge/castadapter"
	"go2tv.app/castbridge/castadapter/adaptertest"
	"go2tv.app/castbridge/events"
)

func newTestManager(t *testing.T, dev *adaptertest.FakeDevice) *castadapter.Manager {
	t.Helper()

	mgr, err := castadapter.NewManager(castadapter.Config{
		ReceiverAppID: "ABCD1234",
	}, castadapter.WithDeviceContext(dev))
	require.NoError(t, err)
	return mgr
}

func TestNewManagerRequiresReceiverAppID(t *testing.T) {
	_, err := castadapter.NewManager(castadapter.Config{})
	if err == nil {
		t.Fatal("expected an error for a missing receiver app ID")
	}
}

func TestInitializePublishesConnectivity(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)

	var got []castadapter.ConnectivityState
	mgr.OnConnectivityEvent(events.NewListener(func(payload any) {
		got = append(got, payload.(castadapter.ConnectivityEvent).State)
	}))

	require.NoError(t, mgr.Initialize(context.Background()))

	require.Equal(t, []castadapter.ConnectivityState{castadapter.Connected}, got)

	state, ok := mgr.Connectivity()
	require.True(t, ok)
	require.Equal(t, castadapter.Connected, state)
	require.True(t, mgr.Initialized())
}

func TestInitializeIsIdempotent(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)

	published := 0
	mgr.OnConnectivityEvent(events.NewListener(func(payload any) {
		published++
	}))

	require.NoError(t, mgr.Initialize(context.Background()))
	require.NoError(t, mgr.Initialize(context.Background()))

	if published != 1 {
		t.Fatalf("got %d connectivity events after double initialize, want 1", published)
	}
}

func TestInitializeFailureLeavesAdapterRetriable(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	dev.ConnectErr = errors.New("transport refused")
	mgr := newTestManager(t, dev)

	err := mgr.Initialize(context.Background())
	var berr *castadapter.BootstrapError
	require.ErrorAs(t, err, &berr)
	require.False(t, mgr.Initialized())

	// Retry after the fault clears.
	dev.ConnectErr = nil
	require.NoError(t, mgr.Initialize(context.Background()))
	require.True(t, mgr.Initialized())
}

func TestConnectivityTracksLastEvent(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	var got []string
	mgr.OnConnectivityEvent(events.NewListener(func(payload any) {
		got = append(got, payload.(castadapter.ConnectivityEvent).State.String())
	}))

	dev.FireConnectivity(castadapter.NotConnected)
	dev.FireConnectivity(castadapter.Connecting)
	dev.FireConnectivity(castadapter.Connected)

	require.Equal(t, []string{"NOT_CONNECTED", "CONNECTING", "CONNECTED"}, got)

	state, ok := mgr.Connectivity()
	require.True(t, ok)
	require.Equal(t, castadapter.Connected, state)
}

func TestConnectivityUnknownBeforeInitialize(t *testing.T) {
	mgr := newTestManager(t, adaptertest.NewFakeDevice())

	if _, ok := mgr.Connectivity(); ok {
		t.Fatal("connectivity reported known before initialize")
	}
}

func TestSessionHandleFollowsLifecycle(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	var states []castadapter.SessionState
	var handles []castadapter.Session
	mgr.OnSessionEvent(events.NewListener(func(payload any) {
		ev := payload.(castadapter.SessionEvent)
		states = append(states, ev.State)
		handles = append(handles, ev.Session)
	}))

	sess := adaptertest.NewFakeSession("s-1")
	dev.FireSession(castadapter.SessionStarting, nil)
	dev.FireSession(castadapter.SessionStarted, sess)

	require.Equal(t, []castadapter.SessionState{castadapter.SessionStarting, castadapter.SessionStarted}, states)
	require.Nil(t, handles[0])
	require.Equal(t, sess, handles[1])
	require.True(t, mgr.SessionActive())

	dev.FireSession(castadapter.SessionEnding, sess)
	dev.FireSession(castadapter.SessionEnded, nil)

	require.Equal(t, castadapter.SessionEnded, mgr.SessionState())
	require.False(t, mgr.SessionActive())
	if _, ok := mgr.CurrentSession(); ok {
		t.Fatal("session handle survived SESSION_ENDED")
	}
}

func TestSessionStartInstallsMessageListener(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	sess := adaptertest.NewFakeSession("s-1")
	dev.FireSession(castadapter.SessionStarted, sess)

	if !sess.HasHandler("urn:x-cast:com.custom") {
		t.Fatal("no message listener installed on the started session")
	}
}

func TestInitializePollsUntilDeviceReady(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	dev.ReadyAfter = 3
	mgr := newTestManager(t, dev)

	require.NoError(t, mgr.Initialize(context.Background()))
	require.Equal(t, 3, dev.Refreshes())
	require.True(t, mgr.Initialized())
}

func TestInitializeDeviceWaitBounded(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	dev.AwaitBlocks = true
	mgr := newTestManager(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := mgr.Initialize(ctx)
	var berr *castadapter.BootstrapError
	require.ErrorAs(t, err, &berr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, mgr.Initialized())
}

func TestPreExistingSessionResumed(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	sess := adaptertest.NewFakeSession("s-old")
	dev.SetCurrentSession(sess)

	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.Equal(t, castadapter.SessionResumed, mgr.SessionState())
	got, ok := mgr.CurrentSession()
	require.True(t, ok)
	require.Equal(t, "s-old", got.ID())
	require.True(t, sess.HasHandler("urn:x-cast:com.custom"))
}

func TestPreExistingSessionInstallFailureNonFatal(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	sess := adaptertest.NewFakeSession("s-old")
	sess.InstallErr = errors.New("listener rejected")
	dev.SetCurrentSession(sess)

	mgr := newTestManager(t, dev)

	published := 0
	mgr.OnConnectivityEvent(NewCountingListener(&published))

	// A failed listener install never blocks the rest of
	// initialization: the session is still adopted and the initial
	// connectivity still published.
	require.NoError(t, mgr.Initialize(context.Background()))
	require.True(t, mgr.Initialized())
	require.Equal(t, 1, published)

	require.Equal(t, castadapter.SessionResumed, mgr.SessionState())
	got, ok := mgr.CurrentSession()
	require.True(t, ok)
	require.Equal(t, "s-old", got.ID())
	require.False(t, sess.HasHandler("urn:x-cast:com.custom"))
}

func TestSessionStartInstallFailureStillPublishes(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	var got []castadapter.SessionEvent
	mgr.OnSessionEvent(events.NewListener(func(payload any) {
		got = append(got, payload.(castadapter.SessionEvent))
	}))

	sess := adaptertest.NewFakeSession("s-1")
	sess.InstallErr = errors.New("listener rejected")
	dev.FireSession(castadapter.SessionStarted, sess)

	require.Len(t, got, 1)
	require.Equal(t, castadapter.SessionStarted, got[0].State)
	require.Equal(t, sess, got[0].Session)
	require.True(t, mgr.SessionActive())
	require.False(t, sess.HasHandler("urn:x-cast:com.custom"))
}

func TestSendMessageWithoutSession(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	err := mgr.SendMessage(map[string]any{"type": "PING"})
	require.ErrorIs(t, err, castadapter.ErrNoSession)
}

func TestSendMessageDelegatesToSession(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	sess := adaptertest.NewFakeSession("s-1")
	dev.FireSession(castadapter.SessionStarted, sess)

	payload := map[string]any{"type": "PING"}
	require.NoError(t, mgr.SendMessage(payload))

	sent := sess.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "urn:x-cast:com.custom", sent[0].Namespace)
	require.Equal(t, payload, sent[0].Payload)
}

func TestSendMessageWrapsSessionError(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	sess := adaptertest.NewFakeSession("s-1")
	sess.SendErr = adaptertest.ErrSessionGone
	dev.FireSession(castadapter.SessionStarted, sess)

	err := mgr.SendMessage("hello")
	var cerr *castadapter.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "send", cerr.Op)
	require.ErrorIs(t, err, adaptertest.ErrSessionGone)
}

func TestRequestSessionBeforeInitialize(t *testing.T) {
	mgr := newTestManager(t, adaptertest.NewFakeDevice())

	err := mgr.RequestSession()
	require.ErrorIs(t, err, castadapter.ErrNotInitialized)
}

func TestRequestSessionPassesReceiverAppID(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.RequestSession())
	require.Equal(t, []string{"ABCD1234"}, dev.Requests())
}

func TestRequestSessionWrapsDeviceError(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	dev.RequestErr = errors.New("launch rejected")
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	err := mgr.RequestSession()
	var cerr *castadapter.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "request-session", cerr.Op)
}

func TestEndSessionWithoutSession(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	err := mgr.EndSession()
	require.ErrorIs(t, err, castadapter.ErrNoActiveSession)
}

func TestEndSessionReleasesHandle(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	dev.FireSession(castadapter.SessionStarted, adaptertest.NewFakeSession("s-1"))
	require.NoError(t, mgr.EndSession())

	require.Equal(t, castadapter.SessionEnded, mgr.SessionState())
	require.False(t, mgr.SessionActive())
	require.ErrorIs(t, mgr.SendMessage("late"), castadapter.ErrNoSession)
}

func TestInboundMessagePublished(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	sess := adaptertest.NewFakeSession("s-1")
	dev.FireSession(castadapter.SessionStarted, sess)

	var got []castadapter.MessageEvent
	mgr.OnMessageEvent(events.NewListener(func(payload any) {
		got = append(got, payload.(castadapter.MessageEvent))
	}))

	sess.Deliver("urn:x-cast:com.custom", []byte(`{"type":"STATUS","level":3}`))

	require.Len(t, got, 1)
	require.Equal(t, "urn:x-cast:com.custom", got[0].Namespace)
	body := got[0].Payload.(map[string]any)
	require.Equal(t, "STATUS", body["type"])
}

func TestMalformedInboundMessageDropped(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	sess := adaptertest.NewFakeSession("s-1")
	dev.FireSession(castadapter.SessionStarted, sess)

	delivered := 0
	mgr.OnMessageEvent(NewCountingListener(&delivered))

	sess.Deliver("urn:x-cast:com.custom", []byte(`{"type":`))

	if delivered != 0 {
		t.Fatalf("got %d message events for a malformed payload, want 0", delivered)
	}
}

func TestUnsubscribedListenerGetsNothing(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	calls := 0
	l := NewCountingListener(&calls)
	mgr.OnConnectivityEvent(l)
	mgr.OffConnectivityEvent(l)

	dev.FireConnectivity(castadapter.NotConnected)

	if calls != 0 {
		t.Fatalf("got %d events after unsubscribe, want 0", calls)
	}
}

func TestDestroy(t *testing.T) {
	dev := adaptertest.NewFakeDevice()
	mgr := newTestManager(t, dev)
	require.NoError(t, mgr.Initialize(context.Background()))

	dev.FireSession(castadapter.SessionStarted, adaptertest.NewFakeSession("s-1"))

	calls := 0
	mgr.OnConnectivityEvent(NewCountingListener(&calls))

	mgr.Destroy()

	require.True(t, dev.Closed())
	require.False(t, mgr.Initialized())
	require.False(t, mgr.SessionActive())
	require.ErrorIs(t, mgr.SendMessage("late"), castadapter.ErrNoSession)
	require.ErrorIs(t, mgr.Initialize(context.Background()), castadapter.ErrDestroyed)

	// Native events arriving after teardown go nowhere.
	dev.FireConnectivity(castadapter.NotConnected)
	if calls != 0 {
		t.Fatalf("got %d events after destroy, want 0", calls)
	}

	// Second destroy is a no-op.
	mgr.Destroy()
}

// NewCountingListener bumps *n on every delivery.
func NewCountingListener(n *int) *events.Listener {
	return events.NewListener(func(any) { *n++ })
}
