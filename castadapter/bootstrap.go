package castadapter

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Bootstrap timings. The poll bound gives the receiver about two
// seconds to publish a status once the transport is up; the device
// wait is bounded so a dead device cannot hang Initialize forever.
const (
	bootstrapPollInterval  = 100 * time.Millisecond
	bootstrapPollAttempts  = 20
	bootstrapDeviceTimeout = 5 * time.Second
)

// Bootstrap stages, linear with no back-edges.
const (
	stageUnloaded   = "unloaded"
	stageConnecting = "connecting"
	stageAwaiting   = "awaiting-device"
	stagePolling    = "polling-status"
	stageReady      = "ready"
)

var errStatusTimeout = errors.New("receiver status timeout")

// bootstrapper runs the one-shot SDK bring-up sequence. Timings are
// fields so tests can shrink them.
type bootstrapper struct {
	dev           DeviceContext
	pollInterval  time.Duration
	pollAttempts  int
	deviceTimeout time.Duration
	log           *zerolog.Logger
}

func newBootstrapper(dev DeviceContext, log *zerolog.Logger) *bootstrapper {
	return &bootstrapper{
		dev:           dev,
		pollInterval:  bootstrapPollInterval,
		pollAttempts:  bootstrapPollAttempts,
		deviceTimeout: bootstrapDeviceTimeout,
		log:           log,
	}
}

func newBootstrapFSM() *fsm.FSM {
	return fsm.NewFSM(
		stageUnloaded,
		fsm.Events{
			{Name: "connect", Src: []string{stageUnloaded}, Dst: stageConnecting},
			{Name: "await", Src: []string{stageConnecting}, Dst: stageAwaiting},
			{Name: "poll", Src: []string{stageAwaiting}, Dst: stagePolling},
			{Name: "ready", Src: []string{stageUnloaded, stagePolling}, Dst: stageReady},
		},
		fsm.Callbacks{},
	)
}

// run advances the machine until the SDK reports a receiver status,
// or fails with a BootstrapError naming the stage that broke. The
// sequence is never retried internally; a failed attempt leaves the
// adapter uninitialized and safe to initialize again.
func (b *bootstrapper) run(ctx context.Context) error {
	machine := newBootstrapFSM()

	// Fast path: a context that already has receiver status needs no
	// bring-up at all.
	if b.dev.Ready() {
		_ = machine.Event(ctx, "ready")
		return nil
	}

	_ = machine.Event(ctx, "connect")
	b.log.Debug().Str("Stage", machine.Current()).Msg("bootstrap")
	if err := b.dev.Connect(); err != nil {
		return &BootstrapError{Stage: machine.Current(), Err: err}
	}

	_ = machine.Event(ctx, "await")
	b.log.Debug().Str("Stage", machine.Current()).Msg("bootstrap")
	waitCtx, cancel := context.WithTimeout(ctx, b.deviceTimeout)
	defer cancel()
	if err := b.dev.AwaitDevice(waitCtx); err != nil {
		return &BootstrapError{Stage: machine.Current(), Err: err}
	}

	_ = machine.Event(ctx, "poll")
	b.log.Debug().Str("Stage", machine.Current()).Msg("bootstrap")
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for attempt := range b.pollAttempts {
		if err := b.dev.Refresh(); err != nil {
			b.log.Debug().Int("Attempt", attempt+1).Err(err).Msg("receiver status refresh failed")
		}
		if b.dev.Ready() {
			_ = machine.Event(ctx, "ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return &BootstrapError{Stage: machine.Current(), Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &BootstrapError{Stage: machine.Current(), Err: errStatusTimeout}
}
