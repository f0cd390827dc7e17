package tunnel

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestTunnel_ConnectsAndSends(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tun := New(ln.Addr().String())
	defer tun.Close()

	waitFor(t, time.Second, func() bool { return tun.State() == StateConnected })
	assert.True(t, tun.CanSend())

	conn := <-accepted
	defer conn.Close()

	ok := tun.Send([]byte(`{"a":1}`))
	require.True(t, ok)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n", line)

	waitFor(t, time.Second, func() bool { return tun.SendComplete() })
}

func TestTunnel_SendRawWritesNoTrailingNewline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tun := New(ln.Addr().String())
	defer tun.Close()

	waitFor(t, time.Second, func() bool { return tun.State() == StateConnected })
	conn := <-accepted
	defer conn.Close()

	ok := tun.SendRaw([]byte("raw-bytes"))
	require.True(t, ok)

	buf := make([]byte, len("raw-bytes"))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(buf))
}

func TestTunnel_SendFailsWhenDisconnected(t *testing.T) {
	// Nothing is listening on this port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	tun := New(addr)
	defer tun.Close()

	// The tunnel hasn't connected yet (nothing is listening), so a send
	// attempted immediately must be rejected rather than blocking.
	ok := tun.Send([]byte(`{"a":1}`))
	assert.False(t, ok)
	assert.False(t, tun.CanSend())
}

func TestTunnel_ReconnectsAfterSocketError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	tun := New(ln.Addr().String())
	defer tun.Close()

	waitFor(t, time.Second, func() bool { return tun.State() == StateConnected })

	first := <-accepted
	first.Close() // simulate a socket error on the tunnel's side

	waitFor(t, 2*time.Second, func() bool { return tun.State() == StateConnected })

	second := <-accepted
	defer second.Close()

	ok := tun.Send([]byte(`{"b":2}`))
	assert.True(t, ok)
}
