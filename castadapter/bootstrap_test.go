package castadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stubDevice is a minimal DeviceContext for driving the bootstrap
// sequence. Only the bring-up methods matter here.
type stubDevice struct {
	readyAfter  int // refreshes needed before Ready; -1 means never
	connectErr  error
	awaitBlocks bool

	connected bool
	refreshes int
}

func (d *stubDevice) Ready() bool {
	if !d.connected || d.readyAfter < 0 {
		return false
	}
	return d.refreshes >= d.readyAfter
}

func (d *stubDevice) Connect() error {
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *stubDevice) AwaitDevice(ctx context.Context) error {
	if d.awaitBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (d *stubDevice) Refresh() error {
	d.refreshes++
	return nil
}

func (d *stubDevice) Connectivity() ConnectivityState          { return Connected }
func (d *stubDevice) CurrentSession() (Session, bool)          { return nil, false }
func (d *stubDevice) RequestSession(string) error              { return nil }
func (d *stubDevice) EndSession() error                        { return nil }
func (d *stubDevice) OnConnectivityChanged(func(ConnectivityState)) {}
func (d *stubDevice) OnSessionChanged(func(SessionState))      {}
func (d *stubDevice) Close() error                             { return nil }

func newTestBootstrapper(dev DeviceContext) *bootstrapper {
	log := zerolog.Nop()
	b := newBootstrapper(dev, &log)
	b.pollInterval = time.Millisecond
	b.pollAttempts = 5
	b.deviceTimeout = 20 * time.Millisecond
	return b
}

func TestBootstrapFastPath(t *testing.T) {
	dev := &stubDevice{connected: true}
	b := newTestBootstrapper(dev)

	if err := b.run(context.Background()); err != nil {
		t.Fatalf("fast path returned %v", err)
	}
	if dev.refreshes != 0 {
		t.Fatalf("fast path polled %d times, want 0", dev.refreshes)
	}
}

func TestBootstrapPollsUntilReady(t *testing.T) {
	dev := &stubDevice{readyAfter: 3}
	b := newTestBootstrapper(dev)

	if err := b.run(context.Background()); err != nil {
		t.Fatalf("bootstrap returned %v", err)
	}
	if dev.refreshes != 3 {
		t.Fatalf("got %d refreshes, want 3", dev.refreshes)
	}
}

func TestBootstrapConnectFailure(t *testing.T) {
	cause := errors.New("connection refused")
	b := newTestBootstrapper(&stubDevice{connectErr: cause})

	err := b.run(context.Background())
	var berr *BootstrapError
	if !errors.As(err, &berr) {
		t.Fatalf("got %v, want a BootstrapError", err)
	}
	if berr.Stage != stageConnecting {
		t.Errorf("got stage %q, want %q", berr.Stage, stageConnecting)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved through the wrap")
	}
}

func TestBootstrapDeviceWaitBounded(t *testing.T) {
	b := newTestBootstrapper(&stubDevice{awaitBlocks: true})

	start := time.Now()
	err := b.run(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("device wait was not bounded")
	}

	var berr *BootstrapError
	if !errors.As(err, &berr) {
		t.Fatalf("got %v, want a BootstrapError", err)
	}
	if berr.Stage != stageAwaiting {
		t.Errorf("got stage %q, want %q", berr.Stage, stageAwaiting)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got cause %v, want context.DeadlineExceeded", errors.Unwrap(err))
	}
}

func TestBootstrapStatusTimeout(t *testing.T) {
	dev := &stubDevice{readyAfter: -1}
	b := newTestBootstrapper(dev)

	err := b.run(context.Background())
	var berr *BootstrapError
	if !errors.As(err, &berr) {
		t.Fatalf("got %v, want a BootstrapError", err)
	}
	if berr.Stage != stagePolling {
		t.Errorf("got stage %q, want %q", berr.Stage, stagePolling)
	}
	if !errors.Is(err, errStatusTimeout) {
		t.Errorf("got cause %v, want errStatusTimeout", errors.Unwrap(err))
	}
	if dev.refreshes != b.pollAttempts {
		t.Errorf("got %d poll attempts, want %d", dev.refreshes, b.pollAttempts)
	}
}

func TestBootstrapHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBootstrapper(&stubDevice{readyAfter: -1})

	err := b.run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
