package devices

import (
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// CapabilityVideoOut is bit 0 of the "ca" TXT capability mask.
	CapabilityVideoOut = 1

	googlecastService = "_googlecast._tcp"
)

// Discover runs one mDNS query round for cast devices and returns
// whatever answered within timeout. It queries every active network
// interface to handle hosts with multiple adapters (VPN, Hyper-V,
// Docker, etc.) where the OS default interface may not be the one
// connected to the cast network.
func Discover(timeout time.Duration) ([]Device, error) {
	found := make(map[string]Device)
	var foundMu sync.Mutex

	entriesCh := make(chan *mdns.ServiceEntry, 256)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			if dev, addr, ok := deviceFromMDNSEntry(entry); ok {
				foundMu.Lock()
				found[addr] = dev
				foundMu.Unlock()
			}
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		_ = mdns.Query(params)
	}

	interfaces := getActiveNetworkInterfaces()
	if len(interfaces) > 0 {
		var wg sync.WaitGroup
		for _, iface := range interfaces {
			wg.Add(1)
			go func(iface net.Interface) {
				defer wg.Done()
				queryIface(&iface)
			}(iface)
		}
		wg.Wait()
	} else {
		queryIface(nil)
	}

	close(entriesCh)
	<-doneCh

	if len(found) == 0 {
		return nil, ErrNoDeviceAvailable
	}

	result := make([]Device, 0, len(found))
	for _, dev := range found {
		result = append(result, dev)
	}
	return result, nil
}

// deviceFromMDNSEntry turns one mDNS answer into a Device. The second
// return is the raw host:port key used to deduplicate answers that
// arrive on several interfaces.
func deviceFromMDNSEntry(entry *mdns.ServiceEntry) (Device, string, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return Device{}, "", false
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return Device{}, "", false
	}

	address := fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)

	friendlyName := entry.Name
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "fn="); ok {
			friendlyName = after
			break
		}
	}
	if idx := strings.Index(friendlyName, "._googlecast"); idx > 0 {
		friendlyName = friendlyName[:idx]
	}

	isAudioOnly := false
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "ca="); ok {
			isAudioOnly = isAudioOnlyCapability(after)
			break
		}
	}

	return Device{
		Name:        friendlyName,
		Addr:        "http://" + address,
		IsAudioOnly: isAudioOnly,
	}, address, true
}

// getActiveNetworkInterfaces returns all interfaces that are up,
// multicast-capable, not loopback, and have an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		hasIPv4 := false
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					hasIPv4 = true
					break
				}
			}
		}

		if hasIPv4 {
			active = append(active, iface)
		}
	}

	return active
}

// HostPortIsAlive checks whether a device at host:port accepts a TCP
// connection within 2 seconds.
func HostPortIsAlive(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isAudioOnlyCapability reads the "ca" TXT bitmask. A device without
// the video-out bit is audio-only (speakers, audio groups). Parse
// failures count as video-capable so nothing gets filtered out by a
// malformed record.
func isAudioOnlyCapability(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
