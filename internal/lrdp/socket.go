package lrdp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestrel-systems/rdgram/internal/logging"
	"github.com/kestrel-systems/rdgram/internal/wire"
)

// ErrClosed is returned by RecvFrom once the socket has been stopped.
var ErrClosed = errors.New("lrdp: socket closed")

const (
	retransmitTick      = 10 * time.Millisecond
	resendThreshold     = 300 * time.Millisecond
	deliveryChannelSize = 64
	ingressChannelSize  = 256
)

// inbound is one datagram lifted off the wire by the reader goroutine.
type inbound struct {
	payload []byte // nil/empty means the close sentinel
	addr    *net.UDPAddr
}

// Delivered is a payload handed to the caller by RecvFrom, tagged with
// its source address.
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

// Socket is an LRDP endpoint bound to one local UDP address. It owns
// three goroutines: a UDP reader, a packet handler, and a retransmitter.
type Socket struct {
	conn *net.UDPConn
	log  *logging.Logger

	peersMu sync.Mutex
	peers   map[string]*Peer

	ingress  chan inbound
	delivery chan Delivered

	stopOnce      sync.Once
	closeDelivery sync.Once
	done          chan struct{}
	wg            sync.WaitGroup
}

// Bind creates a Socket listening on addr and starts its goroutines.
func Bind(addr string, opts ...Option) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("lrdp: resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("lrdp: listen %q: %w", addr, err)
	}

	s := &Socket{
		conn:     conn,
		log:      logging.Default(),
		peers:    make(map[string]*Peer),
		ingress:  make(chan inbound, ingressChannelSize),
		delivery: make(chan Delivered, deliveryChannelSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(3)
	go s.readLoop()
	go s.handleLoop()
	go s.retransmitLoop()

	return s, nil
}

func (s *Socket) peerKey(addr *net.UDPAddr) string {
	return addr.String()
}

// getOrCreatePeer returns the existing peer for addr, creating fresh
// state (expected sequence 0, empty send queue) on first contact.
func (s *Socket) getOrCreatePeer(addr *net.UDPAddr) *Peer {
	key := s.peerKey(addr)

	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	p, ok := s.peers[key]
	if !ok {
		p = NewPeer(addr)
		s.peers[key] = p
	}
	return p
}

func (s *Socket) dropPeer(addr *net.UDPAddr) {
	s.peersMu.Lock()
	delete(s.peers, s.peerKey(addr))
	s.peersMu.Unlock()
}

// readLoop blocks on the underlying socket and forwards every datagram
// (including zero-length ones, the close sentinel) to the ingress
// channel. On I/O error it closes the ingress channel and exits.
func (s *Socket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("lrdp: read error: %v", err)
			close(s.ingress)
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case s.ingress <- inbound{payload: payload, addr: addr}:
		case <-s.done:
			return
		}
	}
}

// handleLoop dequeues parsed datagrams and drives each peer's state
// machine. It creates and removes peers map entries; SendTo also creates
// them, and the retransmitter only reads.
func (s *Socket) handleLoop() {
	defer s.wg.Done()

	for {
		select {
		case in, ok := <-s.ingress:
			if !ok {
				s.closeDelivery.Do(func() { close(s.delivery) })
				return
			}
			s.handleDatagram(in)
		case <-s.done:
			s.closeDelivery.Do(func() { close(s.delivery) })
			return
		}
	}
}

func (s *Socket) handleDatagram(in inbound) {
	if len(in.payload) == 0 {
		s.dropPeer(in.addr)
		return
	}

	pkt, err := wire.DecodeLRDP(in.payload)
	if err != nil {
		return
	}

	peer := s.getOrCreatePeer(in.addr)
	peer.touchRecv(time.Now())

	if pkt.Ack {
		if err := peer.ack(pkt.AckNum); err != nil {
			if errors.Is(err, ErrWrongAck) {
				s.dropPeer(in.addr)
			}
			// Exhausted: queue drained, peer stays live.
		}
	}

	if pkt.Data {
		if err := peer.recv(pkt.Seq); err != nil {
			if errors.Is(err, ErrWrongSeq) {
				s.sendAck(peer, peer.expectedSeq())
				return
			}
			s.dropPeer(in.addr)
			return
		}

		select {
		case s.delivery <- Delivered{Payload: pkt.Payload, Addr: in.addr}:
		case <-s.done:
			return
		}
		s.sendAck(peer, pkt.Seq)
	}
}

func (s *Socket) sendAck(peer *Peer, ackNum uint8) {
	buf := wire.EncodeLRDP(wire.NewLRDPAck(ackNum))
	if _, err := s.conn.WriteToUDP(buf, peer.Addr); err != nil {
		s.log.Warn("lrdp: ack write to %s failed: %v", peer.Addr, err)
	}
}

// retransmitLoop wakes every 10ms and resends the head of any peer's
// send queue whose last transmit exceeds the resend threshold.
func (s *Socket) retransmitLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(retransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.retransmitStalePeers()
		case <-s.done:
			return
		}
	}
}

func (s *Socket) retransmitStalePeers() {
	now := time.Now()

	s.peersMu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMu.Unlock()

	for _, p := range peers {
		if p.queueEmpty() {
			continue
		}
		if now.Sub(p.lastSendAt()) < resendThreshold {
			continue
		}

		head, ok := p.nextPacket()
		if !ok {
			continue
		}

		buf := wire.EncodeLRDP(wire.NewLRDPData(head.seq, head.payload))
		if _, err := s.conn.WriteToUDP(buf, p.Addr); err != nil {
			s.log.Warn("lrdp: retransmit to %s failed: %v", p.Addr, err)
			continue
		}
		p.touchSend(now)
	}
}

// SendTo transmits payload to addr, framed as a DATA packet using that
// peer's next outbound sequence number, and enqueues it for
// retransmission until acknowledged.
func (s *Socket) SendTo(addr string, payload []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("lrdp: resolve %q: %w", addr, err)
	}

	peer := s.getOrCreatePeer(udpAddr)
	seq := peer.nextOutboundSeq()

	buf := wire.EncodeLRDP(wire.NewLRDPData(seq, payload))
	if _, err := s.conn.WriteToUDP(buf, udpAddr); err != nil {
		return fmt.Errorf("lrdp: write to %s: %w", addr, err)
	}
	now := time.Now()
	peer.touchSend(now)

	return peer.enqueue(seq, payload)
}

// RecvFrom blocks until the next delivered payload is available, or the
// socket is stopped.
func (s *Socket) RecvFrom() ([]byte, net.Addr, error) {
	d, ok := <-s.delivery
	if !ok {
		return nil, nil, ErrClosed
	}
	return d.Payload, d.Addr, nil
}

// Stop idempotently terminates all three goroutines and closes the
// underlying UDP endpoint, unblocking any pending RecvFrom.
func (s *Socket) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.wg.Wait()
	})
}
