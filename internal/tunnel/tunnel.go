// Package tunnel implements the worker's single outbound TCP connection
// to a downstream collector: a bounded send queue, capacity signaling
// via CanSend, error-driven reconnect on a 1-second timer, and drain
// detection via SendComplete (spec §4.3). The worker polls this state
// from its event loop rather than reacting to nested callbacks — the
// dial and I/O run on their own goroutine and publish state through
// atomics the worker reads without blocking.
package tunnel

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
)

// State is the tunnel's connection state machine (spec §4.3's transition
// table): Disconnected -> Connected -> Reconnecting -> Disconnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	queueCapacity  = 4096
	dialTimeout    = 2 * time.Second
	reconnectDelay = 1 * time.Second
)

// Tunnel is the persistent outbound connection. Construction spawns the
// connect/reconnect goroutine immediately; callers never dial directly.
type Tunnel struct {
	addr string

	state   atomic.Int32
	pending atomic.Int32 // in-flight sends: enqueued but not yet written

	queue  chan sendItem
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn net.Conn
}

// New starts a Tunnel dialing addr. The first connect attempt runs in
// the background; CanSend reports false until it succeeds.
func New(addr string) *Tunnel {
	t := &Tunnel{
		addr:   addr,
		queue:  make(chan sendItem, queueCapacity),
		closed: make(chan struct{}),
	}
	go t.run()
	return t
}

// sendItem is one queued write. raw items (from the reverse-forwarder)
// are written verbatim; non-raw items get a trailing newline, per the
// two wire contracts spec §4.3 and §4.5's TCP mode describe.
type sendItem struct {
	buf []byte
	raw bool
}

// State reports the current connection state.
func (t *Tunnel) State() State {
	return State(t.state.Load())
}

// CanSend reports whether the send queue has headroom and the tunnel is
// connected. The worker checks this before popping the SPSC queue
// (spec §4.2's drain loop condition).
func (t *Tunnel) CanSend() bool {
	return t.State() == StateConnected && len(t.queue) < queueCapacity
}

// Send enqueues buf (a single JSON record, without its trailing
// newline) for delivery. It never blocks: if the tunnel isn't connected
// or the queue is full, it returns false and the caller counts the line
// as dropped. A true return does not guarantee delivery, only that the
// bytes were handed to the write goroutine.
func (t *Tunnel) Send(buf []byte) bool {
	return t.enqueue(sendItem{buf: buf})
}

// SendRaw enqueues buf for delivery verbatim, with no framing added.
// Used by the TCP reverse-forwarder mode, whose accepted-client bytes
// are opaque (spec §4.5's TCP producer mode).
func (t *Tunnel) SendRaw(buf []byte) bool {
	return t.enqueue(sendItem{buf: buf, raw: true})
}

func (t *Tunnel) enqueue(item sendItem) bool {
	if t.State() != StateConnected {
		return false
	}
	t.pending.Add(1)
	select {
	case t.queue <- item:
		return true
	default:
		t.pending.Add(-1)
		return false
	}
}

// SendComplete reports whether the send queue has fully drained: no
// buffered records and no write in flight. The worker waits on this
// before stopping its event loop (spec §4.2's shutdown sequencing).
func (t *Tunnel) SendComplete() bool {
	return len(t.queue) == 0 && t.pending.Load() == 0
}

// Close stops the connect/reconnect goroutine and releases the socket.
// It does not wait for SendComplete; callers that need a graceful drain
// must poll that themselves before calling Close.
func (t *Tunnel) Close() {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()
	})
}

func (t *Tunnel) setState(s State) {
	t.state.Store(int32(s))
}

func (t *Tunnel) stopped() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// run owns the connection for the tunnel's lifetime: dial, hand off to
// writeLoop/readLoop, and on any error fall back to Reconnecting and
// retry after reconnectDelay. It never has two dials outstanding at
// once, matching spec §8 invariant 4.
func (t *Tunnel) run() {
	for !t.stopped() {
		conn, err := net.DialTimeout("tcp", t.addr, dialTimeout)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"addr": t.addr, "error": err}).Warn("tunnel: dial failed")
			t.setState(StateReconnecting)
			t.wait()
			t.setState(StateDisconnected)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(StateConnected)
		logging.Log.WithField("addr", t.addr).Info("tunnel: connected")

		t.serve(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()

		if t.stopped() {
			return
		}
		metrics.TunnelReconnects.Inc()
		t.setState(StateReconnecting)
		t.wait()
		t.setState(StateDisconnected)
	}
}

func (t *Tunnel) wait() {
	select {
	case <-time.After(reconnectDelay):
	case <-t.closed:
	}
}

// serve runs the connection's write and discard-read loops until either
// fails, then returns so run() can reconnect.
func (t *Tunnel) serve(conn net.Conn) {
	errCh := make(chan struct{}, 2)

	go func() {
		defer func() { errCh <- struct{}{} }()
		discard := make([]byte, 4096)
		for {
			if _, err := conn.Read(discard); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { errCh <- struct{}{} }()
		for {
			select {
			case item := <-t.queue:
				err := writeItem(conn, item)
				t.pending.Add(-1)
				if err != nil {
					logging.Log.WithField("error", err).Warn("tunnel: write failed")
					return
				}
			case <-t.closed:
				return
			}
		}
	}()

	<-errCh
}

func writeItem(conn net.Conn, item sendItem) error {
	if _, err := conn.Write(item.buf); err != nil {
		return err
	}
	if item.raw {
		return nil
	}
	_, err := conn.Write([]byte{'\n'})
	return err
}
