package castadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vishen/go-chromecast/application"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
	"golang.org/x/time/rate"
)

const defaultCastPort = 8009

const defaultSenderID = "sender-0"

// Well-known platform namespaces. Everything else on the wire is
// treated as application traffic and routed to the session.
const (
	namespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	namespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	namespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	namespaceMedia      = "urn:x-cast:com.google.cast.media"
)

const platformReceiverID = "receiver-0"

// Receiver status refreshes are cheap, but slow TVs dislike being
// hammered. Refreshes beyond the limit just reuse the cached status.
var refreshLimit = rate.Every(200 * time.Millisecond)

// ChromecastContext adapts vishen/go-chromecast to the DeviceContext
// surface the Manager drives.
type ChromecastContext struct {
	app  *application.Application
	conn cast.Conn

	host string
	port int

	limiter *rate.Limiter

	available     chan struct{}
	availableOnce sync.Once

	mu           sync.Mutex
	connectivity ConnectivityState
	statusSeen   bool
	session      *chromecastSession
	connCb       func(ConnectivityState)
	sessCb       func(SessionState)
	closed       bool
}

var _ DeviceContext = (*ChromecastContext)(nil)

// NewChromecastContext prepares an SDK context for a device address
// of the form http://host:port or a bare host (port defaults to
// 8009). No network traffic happens until Connect.
func NewChromecastContext(deviceAddr string) (*ChromecastContext, error) {
	if deviceAddr == "" {
		return nil, errors.New("chromecast: device address is required")
	}

	u, err := url.Parse(deviceAddr)
	if err != nil {
		return nil, errors.Wrap(err, "chromecast: parse device addr")
	}

	host := u.Hostname()
	if host == "" {
		host = deviceAddr
	}
	port := defaultCastPort
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	conn := cast.NewConnection()
	app := application.NewApplication(
		application.WithConnection(conn),
		// Slow TVs need time to wake; let the SDK retry the dial.
		application.WithConnectionRetries(5),
	)

	c := &ChromecastContext{
		app:          app,
		conn:         conn,
		host:         host,
		port:         port,
		limiter:      rate.NewLimiter(refreshLimit, 1),
		available:    make(chan struct{}),
		connectivity: NotConnected,
	}
	app.AddMessageFunc(c.onCastMessage)

	return c, nil
}

// Ready reports whether a receiver status has been observed, meaning
// the SDK's framework surface is usable.
func (c *ChromecastContext) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusSeen
}

// Connect establishes the sender transport. Start performs an initial
// status round-trip, so a successful Connect also satisfies Ready.
func (c *ChromecastContext) Connect() error {
	c.setConnectivity(Connecting)

	if err := c.app.Start(c.host, c.port); err != nil {
		c.setConnectivity(NotConnected)
		return errors.Wrap(err, "chromecast: connect")
	}

	c.mu.Lock()
	c.statusSeen = true
	c.mu.Unlock()

	c.signalAvailable()
	c.setConnectivity(Connected)
	c.syncSession()
	return nil
}

// AwaitDevice blocks until the device has produced its first message
// or ctx expires.
func (c *ChromecastContext) AwaitDevice(ctx context.Context) error {
	select {
	case <-c.available:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "chromecast: awaiting device")
	}
}

// Refresh fetches a fresh receiver status, rate limited.
func (c *ChromecastContext) Refresh() error {
	if !c.limiter.Allow() {
		// Cached status is recent enough.
		return nil
	}

	if err := c.app.Update(); err != nil {
		return errors.Wrap(err, "chromecast: status refresh")
	}

	c.mu.Lock()
	c.statusSeen = true
	c.mu.Unlock()

	c.signalAvailable()
	c.syncSession()
	return nil
}

func (c *ChromecastContext) Connectivity() ConnectivityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectivity
}

// CurrentSession returns the running receiver session, if any.
func (c *ChromecastContext) CurrentSession() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	return c.session, true
}

// RequestSession launches the receiver application and waits for its
// transport to appear. The session handle surfaces through the
// session-changed callback once the receiver reports it.
func (c *ChromecastContext) RequestSession(receiverAppID string) error {
	c.fireSession(SessionStarting)

	payload := &launchPayload{Type: "LAUNCH", AppId: receiverAppID}
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := c.conn.Send(requestID, payload, defaultSenderID, platformReceiverID, namespaceReceiver); err != nil {
		c.fireSession(SessionStartFailed)
		return errors.Wrap(err, "chromecast: launch receiver")
	}

	// The receiver needs a moment to spin the application up; retry
	// the status read with backoff, as go2tv does after a launch.
	for i := range 8 {
		if err := c.app.Update(); err != nil {
			time.Sleep(time.Duration(i+1) * 250 * time.Millisecond)
			continue
		}
		info := c.app.App()
		if info != nil && info.TransportId != "" && !info.IsIdleScreen {
			c.syncSession()
			return nil
		}
		time.Sleep(time.Duration(i+1) * 250 * time.Millisecond)
	}

	c.fireSession(SessionStartFailed)
	return errors.New("chromecast: receiver application did not appear")
}

// EndSession stops the running receiver application.
func (c *ChromecastContext) EndSession() error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return errors.New("chromecast: no running receiver application")
	}

	c.fireSession(SessionEnding)

	payload := &stopPayload{Type: "STOP", SessionId: sess.sessionID}
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := c.conn.Send(requestID, payload, defaultSenderID, platformReceiverID, namespaceReceiver); err != nil {
		return errors.Wrap(err, "chromecast: stop receiver")
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.detach()
		c.session = nil
	}
	c.mu.Unlock()

	c.fireSession(SessionEnded)
	return nil
}

func (c *ChromecastContext) OnConnectivityChanged(fn func(ConnectivityState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connCb = fn
}

func (c *ChromecastContext) OnSessionChanged(fn func(SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessCb = fn
}

// Close releases the transport without stopping receiver media.
func (c *ChromecastContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.session != nil {
		c.session.detach()
		c.session = nil
	}
	c.mu.Unlock()

	if err := c.app.Close(false); err != nil {
		return errors.Wrap(err, "chromecast: close")
	}
	return nil
}

func (c *ChromecastContext) signalAvailable() {
	c.availableOnce.Do(func() { close(c.available) })
}

func (c *ChromecastContext) setConnectivity(s ConnectivityState) {
	c.mu.Lock()
	changed := c.connectivity != s
	c.connectivity = s
	cb := c.connCb
	c.mu.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}

func (c *ChromecastContext) fireSession(s SessionState) {
	c.mu.Lock()
	cb := c.sessCb
	c.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// syncSession reconciles the receiver's application status with the
// held session handle, firing the session callback on transitions.
// The backdrop idle screen also carries a transport id and must not
// count as a session.
func (c *ChromecastContext) syncSession() {
	info := c.app.App()

	var (
		fire func(SessionState)
		next SessionState
	)

	c.mu.Lock()
	switch {
	case info != nil && info.TransportId != "" && !info.IsIdleScreen:
		if c.session == nil || c.session.transportID != info.TransportId {
			c.session = newChromecastSession(c.conn, info.TransportId, info.SessionId)
			fire, next = c.sessCb, SessionStarted
		}
	default:
		if c.session != nil {
			c.session.detach()
			c.session = nil
			fire, next = c.sessCb, SessionEnded
		}
	}
	c.mu.Unlock()

	if fire != nil {
		fire(next)
	}
}

// dropSessionFor clears the session when its transport closed on us.
func (c *ChromecastContext) dropSessionFor(transportID string) {
	c.mu.Lock()
	var fire func(SessionState)
	if c.session != nil && c.session.transportID == transportID {
		c.session.detach()
		c.session = nil
		fire = c.sessCb
	}
	c.mu.Unlock()

	if fire != nil {
		fire(SessionEnded)
	}
}

// onCastMessage watches the raw SDK message stream for availability,
// connection closes and application namespace traffic.
func (c *ChromecastContext) onCastMessage(msg *pb.CastMessage) {
	c.signalAvailable()

	switch msg.GetNamespace() {
	case namespaceConnection:
		var hdr struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(msg.GetPayloadUtf8()), &hdr); err != nil || hdr.Type != "CLOSE" {
			return
		}
		if msg.GetSourceId() == platformReceiverID {
			// The device dropped our platform connection.
			c.setConnectivity(NotConnected)
			return
		}
		c.dropSessionFor(msg.GetSourceId())
	case namespaceHeartbeat, namespaceReceiver, namespaceMedia:
		// Platform traffic, handled by the SDK itself.
	default:
		c.mu.Lock()
		sess := c.session
		c.mu.Unlock()
		if sess != nil {
			sess.dispatch(msg.GetNamespace(), []byte(msg.GetPayloadUtf8()))
		}
	}
}

// chromecastSession is the opaque capability handle for one running
// receiver application.
type chromecastSession struct {
	conn        cast.Conn
	transportID string
	sessionID   string

	mu        sync.Mutex
	handlers  map[string]func(raw []byte)
	connected bool
	detached  bool
}

var _ Session = (*chromecastSession)(nil)

func newChromecastSession(conn cast.Conn, transportID, sessionID string) *chromecastSession {
	return &chromecastSession{
		conn:        conn,
		transportID: transportID,
		sessionID:   sessionID,
		handlers:    make(map[string]func([]byte)),
	}
}

func (s *chromecastSession) ID() string { return s.sessionID }

// ensureConnected opens the virtual connection to the application's
// transport, required before messaging any namespace on it.
func (s *chromecastSession) ensureConnected() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return errors.New("chromecast: session detached")
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	requestID := nextRequestID()
	hdr := cast.ConnectHeader
	hdr.SetRequestId(requestID)
	if err := s.conn.Send(requestID, &hdr, defaultSenderID, s.transportID, namespaceConnection); err != nil {
		return errors.Wrap(err, "chromecast: connect transport")
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Send serializes payload onto namespace for this session.
func (s *chromecastSession) Send(namespace string, payload any) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	requestID := nextRequestID()
	wrapped := &messagePayload{body: payload}
	wrapped.SetRequestId(requestID)

	if err := s.conn.Send(requestID, wrapped, defaultSenderID, s.transportID, namespace); err != nil {
		return errors.Wrap(err, "chromecast: send message")
	}
	return nil
}

// OnMessage installs fn as the handler for inbound messages on
// namespace, replacing any previous handler.
func (s *chromecastSession) OnMessage(namespace string, fn func(raw []byte)) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	s.handlers[namespace] = fn
	s.mu.Unlock()
	return nil
}

func (s *chromecastSession) dispatch(namespace string, raw []byte) {
	s.mu.Lock()
	fn := s.handlers[namespace]
	s.mu.Unlock()

	if fn != nil {
		fn(raw)
	}
}

func (s *chromecastSession) detach() {
	s.mu.Lock()
	s.detached = true
	s.handlers = make(map[string]func([]byte))
	s.mu.Unlock()
}
