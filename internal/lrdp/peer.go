// Package lrdp implements the Lightweight Reliable Datagram Protocol: a
// per-peer stop-and-wait transport with a 3-bit modulo-8 sequence space.
package lrdp

import (
	"container/list"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestrel-systems/rdgram/internal/wire"
)

// Errors returned by peer operations.
var (
	// ErrWrongSeq is returned by enqueue when the caller supplies a
	// sequence number other than the peer's local next-outbound, and by
	// recv when the inbound sequence number does not match expectation.
	ErrWrongSeq = errors.New("lrdp: wrong sequence number")
	// ErrWrongAck is returned by ack when n is neither in the send queue
	// nor equal to the local next-outbound cursor.
	ErrWrongAck = errors.New("lrdp: wrong ack number")
	// ErrExhausted is returned by ack when n equals the local
	// next-outbound: the peer has acknowledged past everything sent.
	ErrExhausted = errors.New("lrdp: send queue exhausted")
)

// queuedPacket is one outstanding outbound packet awaiting acknowledgement.
type queuedPacket struct {
	seq     uint8
	payload []byte
}

// Peer holds per-remote-address LRDP state: sequence counters and the
// send queue. All operations are serialized by mu; callers (the socket's
// handler and retransmitter goroutines) never need their own locking
// around a single peer.
type Peer struct {
	mu sync.Mutex

	Addr *net.UDPAddr

	remoteSeq uint8 // next expected inbound sequence number
	localSeq  uint8 // next outbound sequence number

	lastRecv time.Time
	lastSend time.Time

	sendQueue *list.List // of queuedPacket, head is the retransmission candidate
}

// NewPeer creates fresh state for addr with both sequence counters at 0.
func NewPeer(addr *net.UDPAddr) *Peer {
	return &Peer{
		Addr:      addr,
		sendQueue: list.New(),
	}
}

// enqueue appends a DATA packet whose sequence number must equal the
// peer's local next-outbound, then advances that cursor modulo 8.
func (p *Peer) enqueue(seq uint8, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq != p.localSeq {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongSeq, seq, p.localSeq)
	}

	p.sendQueue.PushBack(queuedPacket{seq: seq, payload: payload})
	p.localSeq = (p.localSeq + 1) % wire.LRDPSeqMod
	return nil
}

// ack applies a cumulative acknowledgement for n. If n matches a queued
// packet's sequence number, every packet up to and including it is
// dropped. If n equals the local next-outbound, the peer has
// acknowledged past the end of what was sent: the queue is drained and
// ErrExhausted is returned. Otherwise ErrWrongAck is returned.
func (p *Peer) ack(n uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for e := p.sendQueue.Front(); e != nil; e = e.Next() {
		if e.Value.(queuedPacket).seq == n {
			for p.sendQueue.Front() != nil {
				front := p.sendQueue.Front()
				p.sendQueue.Remove(front)
				if front.Value.(queuedPacket).seq == n {
					break
				}
			}
			return nil
		}
	}

	if n == p.localSeq {
		p.sendQueue.Init()
		return ErrExhausted
	}

	return fmt.Errorf("%w: %d", ErrWrongAck, n)
}

// recv consumes an inbound sequence number. If it matches the expected
// inbound counter, the counter advances modulo 8 and recv succeeds.
// Otherwise it fails with ErrWrongSeq carrying the expected value, so
// the caller can reply with a resynchronising ACK.
func (p *Peer) recv(n uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n != p.remoteSeq {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongSeq, n, p.remoteSeq)
	}

	p.remoteSeq = (p.remoteSeq + 1) % wire.LRDPSeqMod
	return nil
}

// expectedSeq returns the inbound sequence number recv currently wants.
func (p *Peer) expectedSeq() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSeq
}

// nextOutboundSeq returns the sequence number the next enqueue must use.
func (p *Peer) nextOutboundSeq() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localSeq
}

// nextPacket returns the head of the send queue — the retransmission
// candidate — without removing it. The second return is false when the
// queue is empty.
func (p *Peer) nextPacket() (queuedPacket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	front := p.sendQueue.Front()
	if front == nil {
		return queuedPacket{}, false
	}
	return front.Value.(queuedPacket), true
}

// queueEmpty reports whether the send queue currently holds no packets.
func (p *Peer) queueEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendQueue.Len() == 0
}

func (p *Peer) touchSend(t time.Time) {
	p.mu.Lock()
	p.lastSend = t
	p.mu.Unlock()
}

func (p *Peer) touchRecv(t time.Time) {
	p.mu.Lock()
	p.lastRecv = t
	p.mu.Unlock()
}

// lastSendAt returns the timestamp of the peer's most recent transmit.
func (p *Peer) lastSendAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSend
}
