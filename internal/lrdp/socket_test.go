package lrdp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindLoopback(t *testing.T) *Socket {
	t.Helper()
	s, err := Bind("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func recvWithTimeout(t *testing.T, s *Socket, d time.Duration) []byte {
	t.Helper()
	type result struct {
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		payload, _, err := s.RecvFrom()
		ch <- result{payload, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.payload
	case <-time.After(d):
		t.Fatal("timed out waiting for RecvFrom")
		return nil
	}
}

// TestSocket_HappyPath mirrors the "LRDP happy path" scenario: A sends
// two payloads in sequence, B receives them in order, and A's queue
// drains once B's ACKs arrive.
func TestSocket_HappyPath(t *testing.T) {
	a := bindLoopback(t)
	b := bindLoopback(t)

	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	require.NoError(t, a.SendTo(bAddr.String(), []byte("one")))
	require.NoError(t, a.SendTo(bAddr.String(), []byte("two")))

	assert.Equal(t, []byte("one"), recvWithTimeout(t, b, time.Second))
	assert.Equal(t, []byte("two"), recvWithTimeout(t, b, time.Second))

	require.Eventually(t, func() bool {
		peer := a.getOrCreatePeer(bAddr)
		return peer.queueEmpty()
	}, time.Second, 10*time.Millisecond)
}

// TestSocket_PeerLifecycle mirrors the "LRDP peer lifecycle" scenario: a
// zero-length datagram removes the peer's state, and a subsequent
// datagram from the same address starts fresh at sequence 0.
func TestSocket_PeerLifecycle(t *testing.T) {
	a := bindLoopback(t)
	b := bindLoopback(t)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)
	aAddr := a.conn.LocalAddr().(*net.UDPAddr)

	require.NoError(t, a.SendTo(bAddr.String(), []byte("x")))
	recvWithTimeout(t, b, time.Second)

	_, err := a.conn.WriteToUDP(nil, bAddr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b.peersMu.Lock()
		_, ok := b.peers[aAddr.String()]
		b.peersMu.Unlock()
		return !ok
	}, time.Second, 10*time.Millisecond)

	// The raw write above bypasses A's own peer state; drop it too so A's
	// next send starts at sequence 0, as B's fresh state expects.
	a.dropPeer(bAddr)

	require.NoError(t, a.SendTo(bAddr.String(), []byte("y")))
	recvWithTimeout(t, b, time.Second)

	peer := b.getOrCreatePeer(aAddr)
	assert.Equal(t, uint8(1), peer.expectedSeq())
}
