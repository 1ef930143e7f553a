//go:build !(android || ios)
// +build !android,!ios

// Package gui is the desktop window for castbridge. It consumes the
// replay-latest streams of a caststream.Feed, so every label reflects
// the adapter's current state even when the window opens late.
package gui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"go2tv.app/castbridge/castadapter"
	"go2tv.app/castbridge/caststream"
	"go2tv.app/castbridge/devices"
)

const discoverTimeout = 3 * time.Second

// Screen holds the window state and the stream bindings.
type Screen struct {
	mu      sync.RWMutex
	Current fyne.Window

	Connectivity binding.String
	Session      binding.String
	LastMessage  binding.String

	feed    *caststream.Feed
	cfg     castadapter.Config
	version string

	deviceList     []devices.Device
	selectedDevice int
}

// NewScreen builds the window state for cfg. The feed stays idle
// until the user picks a device and connects.
func NewScreen(cfg castadapter.Config, version string) *Screen {
	return &Screen{
		Connectivity:   binding.NewString(),
		Session:        binding.NewString(),
		LastMessage:    binding.NewString(),
		feed:           caststream.New(),
		cfg:            cfg,
		version:        version,
		selectedDevice: -1,
	}
}

// Start builds the UI and runs the fyne main loop. It blocks until
// the window closes, at which point the feed is torn down.
func (s *Screen) Start() {
	a := app.New()
	w := a.NewWindow("castbridge " + s.version)
	s.Current = w

	s.Connectivity.Set("UNKNOWN")
	s.Session.Set(castadapter.SessionNone.String())

	deviceData := binding.NewStringList()

	list := widget.NewListWithData(deviceData,
		func() fyne.CanvasObject {
			return widget.NewLabel("")
		},
		func(item binding.DataItem, o fyne.CanvasObject) {
			o.(*widget.Label).Bind(item.(binding.String))
		})

	list.OnSelected = func(id widget.ListItemID) {
		s.mu.Lock()
		s.selectedDevice = id
		s.mu.Unlock()
	}

	refresh := widget.NewButton("Refresh Devices", func() {
		go func() {
			found, err := devices.Discover(discoverTimeout)
			if err != nil {
				fyne.Do(func() { dialog.ShowError(err, w) })
				return
			}

			names := make([]string, 0, len(found))
			for _, dev := range found {
				name := dev.Name
				if dev.IsAudioOnly {
					name += " (audio)"
				}
				names = append(names, name)
			}

			s.mu.Lock()
			s.deviceList = found
			s.selectedDevice = -1
			s.mu.Unlock()

			deviceData.Set(names)
			fyne.Do(list.UnselectAll)
		}()
	})

	connect := widget.NewButton("Connect", func() {
		dev, ok := s.pickedDevice()
		if !ok {
			dialog.ShowError(devices.ErrDeviceNotAvailable, w)
			return
		}

		cfg := s.cfg
		cfg.DeviceAddr = dev.Addr

		go func() {
			if err := s.feed.Initialize(context.Background(), cfg); err != nil {
				fyne.Do(func() { dialog.ShowError(err, w) })
			}
		}()
	})

	startSession := widget.NewButton("Start Session", func() {
		if err := s.feed.RequestSession(); err != nil {
			dialog.ShowError(err, w)
		}
	})
	endSession := widget.NewButton("End Session", func() {
		if err := s.feed.EndSession(); err != nil {
			dialog.ShowError(err, w)
		}
	})

	msgEntry := widget.NewEntry()
	msgEntry.SetPlaceHolder(`{"type":"PING"}`)
	send := widget.NewButton("Send", func() {
		var payload any
		if err := json.Unmarshal([]byte(msgEntry.Text), &payload); err != nil {
			dialog.ShowError(err, w)
			return
		}
		if err := s.feed.SendMessage(payload); err != nil {
			dialog.ShowError(err, w)
		}
	})

	status := container.NewVBox(
		container.NewHBox(widget.NewLabel("Connectivity:"), widget.NewLabelWithData(s.Connectivity)),
		container.NewHBox(widget.NewLabel("Session:"), widget.NewLabelWithData(s.Session)),
		container.NewHBox(widget.NewLabel("Last message:"), widget.NewLabelWithData(s.LastMessage)),
	)

	controls := container.NewVBox(
		container.NewHBox(refresh, connect, startSession, endSession),
		container.NewBorder(nil, nil, nil, send, msgEntry),
		status,
	)

	w.SetContent(container.NewBorder(nil, controls, nil, nil, list))
	w.Resize(fyne.NewSize(480, 560))

	go s.pumpStreams()

	w.SetOnClosed(func() {
		s.feed.Teardown()
	})

	w.ShowAndRun()
}

func (s *Screen) pickedDevice() (devices.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedDevice < 0 || s.selectedDevice >= len(s.deviceList) {
		return devices.Device{}, false
	}
	return s.deviceList[s.selectedDevice], true
}

// pumpStreams copies feed values into the window bindings until the
// streams complete on teardown. Bindings are safe to set off the main
// goroutine.
func (s *Screen) pumpStreams() {
	conn, cancelConn := s.feed.Connectivity.Subscribe()
	sess, cancelSess := s.feed.Session.Subscribe()
	msgs, cancelMsgs := s.feed.Messages.Subscribe()
	defer cancelConn()
	defer cancelSess()
	defer cancelMsgs()

	for conn != nil || sess != nil || msgs != nil {
		select {
		case state, ok := <-conn:
			if !ok {
				conn = nil
				continue
			}
			s.Connectivity.Set(state.String())
		case ev, ok := <-sess:
			if !ok {
				sess = nil
				continue
			}
			s.Session.Set(ev.State.String())
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.LastMessage.Set(fmt.Sprintf("%v", msg.Payload))
		}
	}
}
