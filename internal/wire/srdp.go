package wire

// SRDP header bit layout, MSB first: I A i i i i i i.
const (
	srdpImportantFlag = 0x80
	srdpAckFlag       = 0x40
	srdpIDMask        = 0x3F
)

// SRDPIDMod is the modulus of the SRDP ID space (the size of the ID pool).
const SRDPIDMod = 64

// SRDPKind classifies an SRDP packet by its header's two top bits.
type SRDPKind int

const (
	// SRDPNormal carries an unreliable payload; I=0, A=0.
	SRDPNormal SRDPKind = iota
	// SRDPImportant carries a payload requiring acknowledgement; I=1, A=0.
	SRDPImportant
	// SRDPAck acknowledges an Important packet cumulatively; I=0, A=1.
	SRDPAck
	// SRDPExpect is a NACK hint carrying the next expected id; I=1, A=1.
	SRDPExpect
)

// SRDPPacket is the decoded form of a single SRDP datagram header plus
// its optional payload.
type SRDPPacket struct {
	Kind    SRDPKind
	ID      uint8 // low six bits of the header; meaning depends on Kind
	Payload []byte
}

// EncodeSRDP serializes a packet to its wire form. Normal packets still
// carry a zeroed header byte so receivers can uniformly parse one byte
// of header before the payload.
func EncodeSRDP(p SRDPPacket) []byte {
	var header byte
	switch p.Kind {
	case SRDPNormal:
		// header stays zero
	case SRDPImportant:
		header = srdpImportantFlag | (p.ID & srdpIDMask)
	case SRDPAck:
		header = srdpAckFlag | (p.ID & srdpIDMask)
	case SRDPExpect:
		header = srdpImportantFlag | srdpAckFlag | (p.ID & srdpIDMask)
	}

	hasPayload := p.Kind == SRDPNormal || p.Kind == SRDPImportant
	if !hasPayload {
		return []byte{header}
	}

	buf := make([]byte, 1+len(p.Payload))
	buf[0] = header
	copy(buf[1:], p.Payload)
	return buf
}

// DecodeSRDP parses a non-empty buffer into an SRDPPacket.
func DecodeSRDP(buf []byte) (SRDPPacket, error) {
	if len(buf) < 1 {
		return SRDPPacket{}, ErrShortBuffer
	}

	header := buf[0]
	important := header&srdpImportantFlag != 0
	ack := header&srdpAckFlag != 0

	p := SRDPPacket{ID: header & srdpIDMask}
	switch {
	case important && ack:
		p.Kind = SRDPExpect
	case important:
		p.Kind = SRDPImportant
	case ack:
		p.Kind = SRDPAck
	default:
		p.Kind = SRDPNormal
	}

	if (p.Kind == SRDPNormal || p.Kind == SRDPImportant) && len(buf) > 1 {
		p.Payload = buf[1:]
	}
	return p, nil
}

// NewSRDPNormal builds a Normal (unreliable) packet.
func NewSRDPNormal(payload []byte) SRDPPacket {
	return SRDPPacket{Kind: SRDPNormal, Payload: payload}
}

// NewSRDPImportant builds an Important packet carrying id.
func NewSRDPImportant(id uint8, payload []byte) SRDPPacket {
	return SRDPPacket{Kind: SRDPImportant, ID: id, Payload: payload}
}

// NewSRDPAck builds a pure ACK for id.
func NewSRDPAck(id uint8) SRDPPacket {
	return SRDPPacket{Kind: SRDPAck, ID: id}
}

// NewSRDPExpect builds an EXPECT carrying the next expected id.
func NewSRDPExpect(expected uint8) SRDPPacket {
	return SRDPPacket{Kind: SRDPExpect, ID: expected}
}
