package srdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestrel-systems/rdgram/internal/logging"
	"github.com/kestrel-systems/rdgram/internal/wire"
)

const (
	idPoolSize          = wire.SRDPIDMod
	flusherTick         = 10 * time.Millisecond
	deliveryChannelSize = 64
)

// ErrClosed is returned by Recv once the socket has been closed.
var ErrClosed = errors.New("srdp: socket closed")

// Kind tags a Packet's reliability mode at the public API boundary.
type Kind int

const (
	// Normal is delivered at most once, with no retransmission.
	Normal Kind = iota
	// Important is tracked until acknowledged and retransmitted on timeout.
	Important
)

// Packet is the reliability-tagged payload passed to SendTo.
type Packet struct {
	Kind    Kind
	Payload []byte
}

// Delivered is a payload handed to the caller by Recv, tagged with its
// source address.
type Delivered struct {
	Payload []byte
	Addr    *net.UDPAddr
}

// Option configures a Socket at Bind time.
type Option func(*Socket)

// WithLogger overrides the socket's logger (default: logging.Default()).
func WithLogger(l *logging.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// Socket is an SRDP endpoint bound to one local UDP address. It owns two
// goroutines: ingress and the retransmitter/ACK-flusher.
type Socket struct {
	conn *net.UDPConn
	log  *logging.Logger

	pool        *idPool
	unacked     *unackedQueue
	rtt         *rttRing
	delayedAcks *delayedAckTable
	recent      *recentIDs

	expectedMu sync.Mutex
	expected   uint8 // next expected inbound Important id, mod 64

	writeMu sync.Mutex // serializes writes across goroutines

	delivery chan Delivered

	ctx               context.Context
	cancel            context.CancelFunc
	closeOnce         sync.Once
	closeDeliveryOnce sync.Once
	wg                sync.WaitGroup
}

// Bind creates a Socket listening on addr and starts its goroutines.
func Bind(addr string, opts ...Option) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("srdp: resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("srdp: listen %q: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Socket{
		conn:        conn,
		log:         logging.Default(),
		pool:        newIDPool(),
		unacked:     newUnackedQueue(),
		rtt:         newRTTRing(),
		delayedAcks: newDelayedAckTable(),
		recent:      newRecentIDs(),
		delivery:    make(chan Delivered, deliveryChannelSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(2)
	go s.ingressLoop()
	go s.flusherLoop()

	return s, nil
}

func (s *Socket) writeTo(buf []byte, addr *net.UDPAddr) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.WriteToUDP(buf, addr)
	return err
}

// SendTo transmits p to addr. Normal packets are fire-and-forget.
// Important packets block for an ID from the 64-slot pool (cancellable
// via ctx), are recorded as unacked, and retransmitted by the flusher
// until acknowledged.
func (s *Socket) SendTo(ctx context.Context, p Packet, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("srdp: resolve %q: %w", addr, err)
	}

	switch p.Kind {
	case Normal:
		buf := wire.EncodeSRDP(wire.NewSRDPNormal(p.Payload))
		return s.writeTo(buf, udpAddr)

	case Important:
		id, err := s.pool.acquire(ctx)
		if err != nil {
			return fmt.Errorf("srdp: acquire id: %w", err)
		}

		now := time.Now()
		s.unacked.push(&unackedPacket{
			id:        id,
			payload:   p.Payload,
			addr:      udpAddr,
			firstSent: now,
			lastSent:  now,
		})

		buf := wire.EncodeSRDP(wire.NewSRDPImportant(id, p.Payload))
		return s.writeTo(buf, udpAddr)

	default:
		return fmt.Errorf("srdp: unknown packet kind %d", p.Kind)
	}
}

// Recv blocks until the next delivered payload is available, or the
// socket is closed.
func (s *Socket) Recv() ([]byte, net.Addr, error) {
	d, ok := <-s.delivery
	if !ok {
		return nil, nil, ErrClosed
	}
	return d.Payload, d.Addr, nil
}

func (s *Socket) ingressLoop() {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		select {
		case <-s.ctx.Done():
			s.closeDeliveryOnce.Do(func() { close(s.delivery) })
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.closeDeliveryOnce.Do(func() { close(s.delivery) })
			return
		}
		if n == 0 {
			// Zero-length datagram is the EOF sentinel: stop reading.
			s.closeDeliveryOnce.Do(func() { close(s.delivery) })
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, addr)
	}
}

func (s *Socket) handleDatagram(data []byte, addr *net.UDPAddr) {
	pkt, err := wire.DecodeSRDP(data)
	if err != nil {
		return
	}

	switch pkt.Kind {
	case wire.SRDPExpect:
		s.handleExpect(pkt.ID)

	case wire.SRDPAck:
		s.handleAck(pkt.ID)

	case wire.SRDPImportant:
		s.handleImportant(pkt.ID, pkt.Payload, addr)

	case wire.SRDPNormal:
		s.deliver(pkt.Payload, addr)
	}
}

func (s *Socket) handleExpect(nextExpected uint8) {
	drained := s.unacked.drainLessThan(nextExpected)
	for _, p := range drained {
		s.pool.release(p.id)
	}
}

func (s *Socket) handleAck(ackID uint8) {
	drained := s.unacked.drainUpTo(ackID)
	for _, p := range drained {
		s.pool.release(p.id)
		if p.id == ackID {
			s.rtt.add(time.Since(p.firstSent))
		}
	}
}

func (s *Socket) handleImportant(id uint8, payload []byte, addr *net.UDPAddr) {
	if s.recent.seen(id) {
		return
	}

	s.expectedMu.Lock()
	expected := s.expected
	s.expectedMu.Unlock()

	if id != expected {
		// Out of order: NACK with EXPECT, but do not mark id as seen —
		// it still needs to be delivered once it arrives in order.
		buf := wire.EncodeSRDP(wire.NewSRDPExpect(expected))
		if err := s.writeTo(buf, addr); err != nil {
			s.log.Warn("srdp: expect write to %s failed: %v", addr, err)
		}
		return
	}

	s.recent.add(id)

	s.expectedMu.Lock()
	s.expected = (s.expected + 1) % wire.SRDPIDMod
	s.expectedMu.Unlock()

	s.deliver(payload, addr)
	s.delayedAcks.schedule(addr, id, time.Now())
}

func (s *Socket) deliver(payload []byte, addr *net.UDPAddr) {
	select {
	case s.delivery <- Delivered{Payload: payload, Addr: addr}:
	case <-s.ctx.Done():
	}
}

// flusherLoop wakes every 10ms. It flushes any delayed ACK older than
// avg_rtt/3 and retransmits any unacked packet whose last send is at
// least avg_rtt old.
func (s *Socket) flusherLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(flusherTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushTick()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Socket) flushTick() {
	now := time.Now()
	avg := s.rtt.average()

	for _, d := range s.delayedAcks.dueAndClear(now, avg/3) {
		buf := wire.EncodeSRDP(wire.NewSRDPAck(d.ackID))
		if err := s.writeTo(buf, d.peer); err != nil {
			s.log.Warn("srdp: ack flush to %s failed: %v", d.peer, err)
		}
	}

	s.unacked.forEachStale(now, avg, func(p *unackedPacket) {
		buf := wire.EncodeSRDP(wire.NewSRDPImportant(p.id, p.payload))
		if err := s.writeTo(buf, p.addr); err != nil {
			s.log.Warn("srdp: retransmit to %s failed: %v", p.addr, err)
			return
		}
		s.unacked.touch(p.id, now)
	})
}

// Close idempotently cancels both goroutines and closes the underlying
// UDP endpoint, unblocking any pending Recv.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
