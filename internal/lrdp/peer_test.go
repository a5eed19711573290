package lrdp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9000")
	require.NoError(t, err)
	return addr
}

func TestPeer_EnqueueInOrder(t *testing.T) {
	p := NewPeer(testAddr(t))
	for i := uint8(0); i < 8; i++ {
		require.NoError(t, p.enqueue(i, []byte{i}))
	}
	assert.Equal(t, uint8(0), p.nextOutboundSeq())
}

func TestPeer_EnqueueWrongSeqFails(t *testing.T) {
	p := NewPeer(testAddr(t))
	err := p.enqueue(1, []byte("x"))
	assert.ErrorIs(t, err, ErrWrongSeq)
}

func TestPeer_CumulativeAckRemovesPrefix(t *testing.T) {
	p := NewPeer(testAddr(t))
	for i := uint8(0); i < 4; i++ {
		require.NoError(t, p.enqueue(i, []byte{i}))
	}

	require.NoError(t, p.ack(2))

	front, ok := p.nextPacket()
	require.True(t, ok)
	assert.Equal(t, uint8(3), front.seq)
}

func TestPeer_AckPastEndIsExhausted(t *testing.T) {
	p := NewPeer(testAddr(t))
	for i := uint8(0); i < 3; i++ {
		require.NoError(t, p.enqueue(i, []byte{i}))
	}

	err := p.ack(3)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.True(t, p.queueEmpty())
}

func TestPeer_AckUnknownIsWrongAck(t *testing.T) {
	p := NewPeer(testAddr(t))
	require.NoError(t, p.enqueue(0, []byte("a")))

	err := p.ack(5)
	assert.ErrorIs(t, err, ErrWrongAck)
}

func TestPeer_RecvAdvancesExpected(t *testing.T) {
	p := NewPeer(testAddr(t))
	require.NoError(t, p.recv(0))
	assert.Equal(t, uint8(1), p.expectedSeq())
}

func TestPeer_RecvWrongSeqReportsExpected(t *testing.T) {
	p := NewPeer(testAddr(t))
	err := p.recv(5)
	assert.ErrorIs(t, err, ErrWrongSeq)
	assert.Equal(t, uint8(0), p.expectedSeq())
}

func TestPeer_NextPacketEmptyQueue(t *testing.T) {
	p := NewPeer(testAddr(t))
	_, ok := p.nextPacket()
	assert.False(t, ok)
}

// TestPeer_RetransmitScenario mirrors the "LRDP retransmit" scenario: A
// sends packet 0, B's ACK is lost, A retransmits; B has already advanced
// past 0 and replies WrongSeq(0,1), ACKing 1; A's ack(1) drains via
// Exhausted.
func TestPeer_RetransmitScenario(t *testing.T) {
	a := NewPeer(testAddr(t))
	b := NewPeer(testAddr(t))

	require.NoError(t, a.enqueue(0, []byte("9")))

	require.NoError(t, b.recv(0)) // B accepts seq 0, advances to 1; its ACK is "lost"

	err := b.recv(0) // A retransmits seq 0
	require.ErrorIs(t, err, ErrWrongSeq)
	assert.Equal(t, uint8(1), b.expectedSeq())

	err = a.ack(1)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.True(t, a.queueEmpty())
}
