// Package wire implements the LRDP and SRDP header codecs: pure functions
// over a byte buffer with no protocol state of their own.
package wire

import (
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a buffer is too small to hold a header byte.
var ErrShortBuffer = errors.New("wire: buffer too short")

// LRDP header bit layout, MSB first: D A s s s a a a.
const (
	lrdpDataFlag = 0x80
	lrdpAckFlag  = 0x40
	lrdpSeqMask  = 0x38
	lrdpSeqShift = 3
	lrdpAckMask  = 0x07
)

// LRDPSeqMod is the modulus of the LRDP sequence/ack number space.
const LRDPSeqMod = 8

// LRDPPacket is the decoded form of a single LRDP datagram header plus
// its optional payload. A zero-length datagram is not an LRDPPacket at
// all — it is the close sentinel and must be checked for before Decode.
type LRDPPacket struct {
	Data    bool
	Ack     bool
	Seq     uint8 // valid iff Data
	AckNum  uint8 // valid iff Ack
	Payload []byte
}

// EncodeLRDP serializes a packet to its wire form: one header byte,
// followed by Payload when Data is set.
func EncodeLRDP(p LRDPPacket) []byte {
	var header byte
	if p.Data {
		header |= lrdpDataFlag
		header |= (p.Seq % LRDPSeqMod) << lrdpSeqShift
	}
	if p.Ack {
		header |= lrdpAckFlag
		header |= p.AckNum % LRDPSeqMod
	}

	if !p.Data {
		return []byte{header}
	}

	buf := make([]byte, 1+len(p.Payload))
	buf[0] = header
	copy(buf[1:], p.Payload)
	return buf
}

// DecodeLRDP parses a non-empty buffer into an LRDPPacket. Any bit
// pattern in the header byte is legal; the only failure mode is a
// buffer with no header byte at all.
func DecodeLRDP(buf []byte) (LRDPPacket, error) {
	if len(buf) < 1 {
		return LRDPPacket{}, fmt.Errorf("%w: need at least 1 byte", ErrShortBuffer)
	}

	header := buf[0]
	p := LRDPPacket{
		Data:   header&lrdpDataFlag != 0,
		Ack:    header&lrdpAckFlag != 0,
		Seq:    (header & lrdpSeqMask) >> lrdpSeqShift,
		AckNum: header & lrdpAckMask,
	}
	if p.Data && len(buf) > 1 {
		p.Payload = buf[1:]
	}
	return p, nil
}

// NewLRDPData builds a DATA packet carrying seq and payload, with no ACK.
func NewLRDPData(seq uint8, payload []byte) LRDPPacket {
	return LRDPPacket{Data: true, Seq: seq, Payload: payload}
}

// NewLRDPAck builds a pure-ACK packet carrying ackNum, with no payload.
func NewLRDPAck(ackNum uint8) LRDPPacket {
	return LRDPPacket{Ack: true, AckNum: ackNum}
}
