package teleop

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientPath is the bridge endpoint consoles connect to.
const ClientPath = "/ws/client"

// ErrNotConnected is returned when a frame cannot be written because the
// bridge link is down.
var ErrNotConnected = errors.New("bridge not connected")

// Conn is one open message stream. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to an address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	c, _, err := wd.DialContext(ctx, address, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FrameHandler receives each inbound frame in arrival order.
type FrameHandler func(frame []byte)

// StatusHandler is told about every ConnectionState change.
type StatusHandler func(ConnectionState)

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Dialer          Dialer
	WatchdogTimeout time.Duration
	ReconnectDelay  time.Duration
	OnFrame         FrameHandler
	OnStatus        StatusHandler
}

// ConnectionManager owns the single bridge stream. It recycles the stream
// when the peer goes quiet for WatchdogTimeout and redials ReconnectDelay
// after every close, forever, until Close is called.
type ConnectionManager struct {
	dialer    Dialer
	watchdog  time.Duration
	reconnect time.Duration
	onFrame   FrameHandler
	onStatus  StatusHandler

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	gen        uint64
	dogTimer   *time.Timer
	retryTimer *time.Timer
	cancelDial context.CancelFunc
	stopped    bool
	attempts   int

	writeMu sync.Mutex
}

// NewConnectionManager creates an idle manager. Nothing is dialed until Connect.
func NewConnectionManager(opts ConnectionOptions) *ConnectionManager {
	m := &ConnectionManager{
		dialer:    opts.Dialer,
		watchdog:  opts.WatchdogTimeout,
		reconnect: opts.ReconnectDelay,
		onFrame:   opts.OnFrame,
		onStatus:  opts.OnStatus,
		stopped:   true,
	}
	if m.dialer == nil {
		m.dialer = WebsocketDialer{}
	}
	if m.watchdog <= 0 {
		m.watchdog = DefaultWatchdogMS * time.Millisecond
	}
	if m.reconnect <= 0 {
		m.reconnect = DefaultReconnectMS * time.Millisecond
	}
	return m
}

// SetFrameHandler replaces the inbound frame handler. Call before Connect.
func (m *ConnectionManager) SetFrameHandler(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = h
}

// NormalizeAddress turns an operator-entered host[:port] into a full bridge
// URL: a ws:// scheme is added when none is given and ClientPath is appended
// unless the address already ends with it.
func NormalizeAddress(address string) string {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return DefaultBridgeAddress
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	if !strings.HasSuffix(addr, ClientPath) {
		addr = strings.TrimSuffix(addr, "/") + ClientPath
	}
	return addr
}

// Connect tears down any existing stream and starts a new session to
// address. It returns without waiting for the dial.
func (m *ConnectionManager) Connect(address string) {
	addr := NormalizeAddress(address)

	m.mu.Lock()
	m.teardownLocked()
	m.stopped = false
	m.state = ConnectionState{Address: addr}
	gen := m.gen
	m.mu.Unlock()

	log.Printf("[BRIDGE] connecting to %s", addr)
	m.notify()
	go m.session(gen, addr)
}

// Close stops the manager: the stream is closed, timers are cleared and no
// reconnect is scheduled.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.teardownLocked()
	addr := m.state.Address
	m.state = ConnectionState{Address: addr}
	m.mu.Unlock()

	log.Printf("[BRIDGE] closed")
	m.notify()
}

// teardownLocked invalidates the current session. Callbacks still running
// for the old generation become no-ops.
func (m *ConnectionManager) teardownLocked() {
	m.gen++
	if m.dogTimer != nil {
		m.dogTimer.Stop()
		m.dogTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

// session dials and then reads until the stream fails.
func (m *ConnectionManager) session(gen uint64, addr string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.cancelDial = cancel
	m.attempts++
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, addr)
	if err != nil {
		log.Printf("[BRIDGE] dial %s failed: %v", addr, err)
		m.closed(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.cancelDial = nil
	m.conn = conn
	m.state.TransportConnected = true
	m.armWatchdogLocked(gen)
	m.mu.Unlock()

	log.Printf("[BRIDGE] connected to %s", addr)
	m.notify()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[BRIDGE] read: %v", err)
			m.closed(gen)
			return
		}
		handler, ok := m.frameReceived(gen)
		if !ok {
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

// frameReceived marks the peer alive and re-arms the watchdog. It reports
// false when the session is stale.
func (m *ConnectionManager) frameReceived(gen uint64) (FrameHandler, bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil, false
	}
	changed := !m.state.PeerAlive
	m.state.PeerAlive = true
	m.armWatchdogLocked(gen)
	handler := m.onFrame
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	return handler, true
}

func (m *ConnectionManager) armWatchdogLocked(gen uint64) {
	if m.dogTimer != nil {
		m.dogTimer.Stop()
	}
	m.dogTimer = time.AfterFunc(m.watchdog, func() { m.watchdogFired(gen) })
}

// watchdogFired declares the peer dead and closes the stream; the read loop
// then observes the close and schedules the reconnect.
func (m *ConnectionManager) watchdogFired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state.PeerAlive = false
	conn := m.conn
	m.mu.Unlock()

	log.Printf("[BRIDGE] no frames for %v, recycling link", m.watchdog)
	m.notify()
	if conn != nil {
		_ = conn.Close()
	}
}

// closed resets the flags and schedules the next attempt.
func (m *ConnectionManager) closed(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.dogTimer != nil {
		m.dogTimer.Stop()
		m.dogTimer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.cancelDial = nil
	addr := m.state.Address
	m.state = ConnectionState{Address: addr}
	if !m.stopped {
		m.retryTimer = time.AfterFunc(m.reconnect, func() { m.retry(gen, addr) })
	}
	m.mu.Unlock()

	log.Printf("[BRIDGE] disconnected, retrying in %v", m.reconnect)
	m.notify()
}

func (m *ConnectionManager) retry(gen uint64, addr string) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	m.gen++
	next := m.gen
	m.retryTimer = nil
	m.mu.Unlock()

	log.Printf("[BRIDGE] reconnecting to %s", addr)
	m.session(next, addr)
}

// SetPeerIdentityKnown records whether the robot has announced itself on
// the bridge. It is cleared automatically whenever the link closes.
func (m *ConnectionManager) SetPeerIdentityKnown(known bool) {
	m.mu.Lock()
	changed := m.state.PeerIdentityKnown != known
	m.state.PeerIdentityKnown = known
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many dials have been started.
func (m *ConnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Send writes one text frame. When the link is down the frame is dropped
// and Send reports false.
func (m *ConnectionManager) Send(frame []byte) bool {
	return m.Write(frame) == nil
}

// Write is Send with the failure reason.
func (m *ConnectionManager) Write(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state.TransportConnected
	m.mu.Unlock()

	if conn == nil || !open {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("[BRIDGE] write: %v", err)
		return err
	}
	return nil
}

func (m *ConnectionManager) notify() {
	if m.onStatus != nil {
		m.onStatus(m.State())
	}
}
