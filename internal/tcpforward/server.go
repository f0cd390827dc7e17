// Package tcpforward implements the reverse-forwarder producer mode
// from spec §4.5: a listener accepts client connections and relays
// their bytes, opaque and line-agnostic, onto a single persistent
// backend tunnel. This mode bypasses the SPSC queue and the schema
// entirely — it is a raw byte relay, not a log pipeline. Grounded on
// the reference implementation's FrontendServer/Frontend/Backend
// triad (a listener gated on the backend tunnel's connectedness).
package tcpforward

import (
	"net"
	"sync"
	"time"

	"logtunnel/internal/logging"
	"logtunnel/internal/tunnel"
)

// gateInterval is how often the listener goroutine rechecks the
// backend tunnel's connection state to decide whether to keep
// accepting new clients.
const gateInterval = 100 * time.Millisecond

// Server accepts client connections on a listen address and forwards
// their bytes to a backend Tunnel. The listener only accepts while the
// backend tunnel reports Connected (spec §4.5: "the listener is
// disabled while the tunnel is not connected").
type Server struct {
	listenAddr string
	backend    *tunnel.Tunnel

	mu     sync.Mutex
	ln     net.Listener
	closed chan struct{}
	once   sync.Once
}

// New builds a Server that will listen on listenAddr and forward to
// backend once Serve is called.
func New(listenAddr string, backend *tunnel.Tunnel) *Server {
	return &Server{listenAddr: listenAddr, backend: backend, closed: make(chan struct{})}
}

// Addr returns the listener's bound address, valid only once Serve has
// started listening. Empty before then.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve opens the listener and accepts clients until Close is called.
// It blocks the calling goroutine.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logging.Log.WithField("addr", ln.Addr().String()).Info("tcpforward: listening")

	for {
		if s.backend.State() != tunnel.StateConnected {
			if !s.waitForConnectedOrClosed() {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				logging.Log.WithField("error", err).Warn("tcpforward: accept failed")
				continue
			}
		}
		go s.relay(conn)
	}
}

func (s *Server) waitForConnectedOrClosed() bool {
	ticker := time.NewTicker(gateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return false
		case <-ticker.C:
			if s.backend.State() == tunnel.StateConnected {
				return true
			}
		}
	}
}

// relay reads bytes from conn and forwards them raw onto the backend
// tunnel until conn closes or errors. Bytes flowing the other way
// (backend to client) are not part of this mode's contract; the
// tunnel already discards whatever it reads from the backend socket.
func (s *Server) relay(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.backend.SendRaw(chunk) {
				logging.Log.Warn("tcpforward: backend tunnel dropped forwarded bytes")
			}
		}
		if err != nil {
			return
		}
	}
}

// Close stops Serve and the accept loop.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.ln != nil {
			err = s.ln.Close()
		}
	})
	return err
}
