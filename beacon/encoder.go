// Package beacon encodes the tracking-network frames the tag advertises and
// derives the link address that accompanies each of them.
//
// Encoding is pure: the same identity always yields the same bytes, and every
// frame is rebuilt from the keys on each use. Decoding helpers recover what a
// scanner can learn from an observed frame.
package beacon

import (
	"github.com/ruteri/hybrid-tag/interfaces"
)

// Frame is one complete advertisement for a protocol: payload and address.
type Frame struct {
	Protocol interfaces.Protocol
	Address  interfaces.LinkAddress
	Payload  []byte
}

// Encoder encodes frames for a deployment. Exactly one Google layout is used.
type Encoder struct {
	GoogleFormat interfaces.GoogleFormat
}

// NewEncoder creates an encoder for the given Google frame layout.
func NewEncoder(format interfaces.GoogleFormat) *Encoder {
	return &Encoder{GoogleFormat: format}
}

// Encode returns the payload for protocol p built from id.
func (e *Encoder) Encode(p interfaces.Protocol, id interfaces.Identity) []byte {
	if p == interfaces.ProtocolAppleFindMy {
		return EncodeApple(id.Apple)
	}
	return EncodeGoogle(e.GoogleFormat, id.Google)
}

// Address returns the link address for protocol p built from id.
func (e *Encoder) Address(p interfaces.Protocol, id interfaces.Identity) interfaces.LinkAddress {
	if p == interfaces.ProtocolAppleFindMy {
		return AppleAddress(id.Apple)
	}
	return GoogleAddress(id.Google)
}

// Frame returns payload and address for protocol p.
func (e *Encoder) Frame(p interfaces.Protocol, id interfaces.Identity) Frame {
	return Frame{
		Protocol: p,
		Address:  e.Address(p, id),
		Payload:  e.Encode(p, id),
	}
}

// PayloadLen returns the payload length for protocol p.
func (e *Encoder) PayloadLen(p interfaces.Protocol) int {
	if p == interfaces.ProtocolAppleFindMy {
		return AppleFrameLen
	}
	return e.GoogleFormat.PayloadLen()
}
