// Package devices discovers cast devices on the local network over
// mDNS and helps pick one.
package devices

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrNoDeviceAvailable  = errors.New("Discover: no cast devices available")
	ErrDeviceNotAvailable = errors.New("DevicePicker: requested device not available")
)

// Device is one discovered cast device.
type Device struct {
	// Name is the device's friendly name from its TXT record.
	Name string

	// Addr is the device address as http://host:port, ready to pass
	// to the adapter configuration.
	Addr string

	// IsAudioOnly marks devices with no video output, such as
	// speakers.
	IsAudioOnly bool
}

// DevicePicker returns the nth device, 1-based, from list ordered by
// name.
func DevicePicker(list []Device, n int) (Device, error) {
	if n > len(list) || len(list) == 0 || n <= 0 {
		return Device{}, ErrDeviceNotAvailable
	}

	sorted := make([]Device, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	return sorted[n-1], nil
}
