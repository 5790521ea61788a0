package beacon

import (
	"fmt"

	"github.com/ruteri/hybrid-tag/interfaces"
)

const (
	staticRandomBits = 0xC0
	subtypeMask      = 0x3F
)

// DeriveAddress computes the link address for protocol p from key.
//
// The first six key bytes are reversed into the address (addr[5] is the MSB).
// Apple forces the MSB's top two bits to 11 (static random); Google clears them.
func DeriveAddress(p interfaces.Protocol, key []byte) (interfaces.LinkAddress, error) {
	var addr interfaces.LinkAddress
	if len(key) < 6 {
		return addr, fmt.Errorf("%w: need at least 6 bytes to derive an address, got %d", interfaces.ErrInvalidKeyLength, len(key))
	}

	switch p {
	case interfaces.ProtocolAppleFindMy:
		addr[5] = key[0] | staticRandomBits
	case interfaces.ProtocolGoogleFMDN:
		addr[5] = key[0] & subtypeMask
	default:
		return addr, fmt.Errorf("unknown protocol %d", p)
	}
	for i := 1; i <= 5; i++ {
		addr[5-i] = key[i]
	}
	return addr, nil
}

// AppleAddress derives the address advertised alongside the Apple frame.
func AppleAddress(key interfaces.AppleKey) interfaces.LinkAddress {
	addr, _ := DeriveAddress(interfaces.ProtocolAppleFindMy, key[:])
	return addr
}

// GoogleAddress derives the address advertised alongside the Google frame.
func GoogleAddress(key interfaces.GoogleKey) interfaces.LinkAddress {
	addr, _ := DeriveAddress(interfaces.ProtocolGoogleFMDN, key[:])
	return addr
}
