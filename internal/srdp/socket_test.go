package srdp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindSRDPLoopback(t *testing.T) *Socket {
	t.Helper()
	s, err := Bind("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func recvSRDPWithTimeout(t *testing.T, s *Socket, d time.Duration) []byte {
	t.Helper()
	type result struct {
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		payload, _, err := s.Recv()
		ch <- result{payload, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.payload
	case <-time.After(d):
		t.Fatal("timed out waiting for Recv")
		return nil
	}
}

// TestSocket_NormalAndImportantInterleave mirrors the "SRDP normal +
// important interleave" scenario.
func TestSocket_NormalAndImportantInterleave(t *testing.T) {
	a := bindSRDPLoopback(t)
	b := bindSRDPLoopback(t)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr).String()

	ctx := context.Background()
	require.NoError(t, a.SendTo(ctx, Packet{Kind: Normal, Payload: []byte("ping")}, bAddr))
	require.NoError(t, a.SendTo(ctx, Packet{Kind: Important, Payload: []byte("do-x")}, bAddr))

	assert.Equal(t, []byte("ping"), recvSRDPWithTimeout(t, b, time.Second))
	assert.Equal(t, []byte("do-x"), recvSRDPWithTimeout(t, b, time.Second))
}

// TestSocket_OutOfOrderTriggersExpect mirrors the "SRDP out-of-order
// triggers EXPECT" scenario: B receives id 2 before id 1 and must NACK.
func TestSocket_OutOfOrderTriggersExpect(t *testing.T) {
	b := bindSRDPLoopback(t)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	// Simulate A's egress directly so we can skip id 1 deliberately.
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer probe.Close()

	sendImportant := func(id uint8, payload string) {
		buf := encodeImportantForTest(id, []byte(payload))
		_, err := probe.WriteToUDP(buf, bAddr)
		require.NoError(t, err)
	}

	sendImportant(0, "zero")
	sendImportant(2, "two")

	assert.Equal(t, []byte("zero"), recvSRDPWithTimeout(t, b, time.Second))

	// b must not deliver id 2 yet; it should have replied with EXPECT(1).
	probe.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 64)
	n, _, err := probe.ReadFromUDP(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
	assert.Equal(t, byte(0x80|0x40|1), buf[0]) // EXPECT carrying 1

	sendImportant(1, "one")
	assert.Equal(t, []byte("one"), recvSRDPWithTimeout(t, b, time.Second))

	// The sender's flusher would retransmit the still-unacked id 2;
	// simulate that retransmit so it can now be accepted in order.
	sendImportant(2, "two")
	assert.Equal(t, []byte("two"), recvSRDPWithTimeout(t, b, time.Second))
}

// TestSocket_DuplicateSuppression mirrors the "SRDP duplicate
// suppression" scenario: a retransmitted Important id is delivered once.
// It uses id 0, the id a fresh receiver expects, so the first copy is
// accepted in order.
func TestSocket_DuplicateSuppression(t *testing.T) {
	b := bindSRDPLoopback(t)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer probe.Close()

	buf := encodeImportantForTest(0, []byte("five"))
	_, err = probe.WriteToUDP(buf, bAddr)
	require.NoError(t, err)
	_, err = probe.WriteToUDP(buf, bAddr)
	require.NoError(t, err)

	assert.Equal(t, []byte("five"), recvSRDPWithTimeout(t, b, time.Second))

	// Second copy must not be delivered again.
	select {
	case d := <-b.delivery:
		t.Fatalf("unexpected second delivery: %q", d.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func encodeImportantForTest(id uint8, payload []byte) []byte {
	header := byte(0x80 | (id & 0x3F))
	buf := make([]byte, 1+len(payload))
	buf[0] = header
	copy(buf[1:], payload)
	return buf
}
