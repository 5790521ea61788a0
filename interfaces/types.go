// Package interfaces defines the core interfaces and types for the hybrid tag.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// AppleKeySize is the length of the offline-finding advertisement key.
	AppleKeySize = 28
	// GoogleKeySize is the length of the FMDN ephemeral identifier.
	GoogleKeySize = 20
)

// ErrInvalidKeyLength is returned when key material has the wrong size.
var ErrInvalidKeyLength = errors.New("invalid key length")

// AppleKey is the 28-byte public key advertised in the Apple offline-finding frame.
type AppleKey [AppleKeySize]byte

// GoogleKey is the 20-byte ephemeral identifier advertised in the FMDN frame.
type GoogleKey [GoogleKeySize]byte

// NewAppleKey creates an Apple key from raw bytes.
func NewAppleKey(b []byte) (AppleKey, error) {
	var k AppleKey
	if len(b) != AppleKeySize {
		return k, fmt.Errorf("%w: apple key must be %d bytes, got %d", ErrInvalidKeyLength, AppleKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// NewGoogleKey creates a Google key from raw bytes.
func NewGoogleKey(b []byte) (GoogleKey, error) {
	var k GoogleKey
	if len(b) != GoogleKeySize {
		return k, fmt.Errorf("%w: google key must be %d bytes, got %d", ErrInvalidKeyLength, GoogleKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// String returns hex representation.
func (k AppleKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw key bytes.
func (k AppleKey) Bytes() []byte {
	return k[:]
}

// String returns hex representation.
func (k GoogleKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw key bytes.
func (k GoogleKey) Bytes() []byte {
	return k[:]
}

// Protocol selects which tracking network the tag currently impersonates.
type Protocol int

const (
	// ProtocolAppleFindMy advertises the Apple offline-finding frame.
	ProtocolAppleFindMy Protocol = iota
	// ProtocolGoogleFMDN advertises the Google Find My Device Network frame.
	ProtocolGoogleFMDN
)

// Other returns the protocol the scheduler switches to next.
func (p Protocol) Other() Protocol {
	if p == ProtocolAppleFindMy {
		return ProtocolGoogleFMDN
	}
	return ProtocolAppleFindMy
}

// String returns protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolAppleFindMy:
		return "apple"
	case ProtocolGoogleFMDN:
		return "google"
	default:
		return "unknown"
	}
}

// ParseProtocol parses a protocol name as produced by String.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "apple", "findmy":
		return ProtocolAppleFindMy, nil
	case "google", "fmdn":
		return ProtocolGoogleFMDN, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

// GoogleFormat selects the FMDN frame layout used by a deployment.
type GoogleFormat int

const (
	// GoogleFormatFEAA is the service-data frame under UUID 0xFEAA with frame type 0x40.
	GoogleFormatFEAA GoogleFormat = iota
	// GoogleFormatFE2C is the service-data frame under UUID 0xFE2C with frame type 0x00 and no flags byte.
	GoogleFormatFE2C
)

// PayloadLen returns the encoded frame length for the format.
func (f GoogleFormat) PayloadLen() int {
	if f == GoogleFormatFE2C {
		return 23
	}
	return 24
}

// ServiceUUID returns the 16-bit service UUID the frame is carried under.
func (f GoogleFormat) ServiceUUID() uint16 {
	if f == GoogleFormatFE2C {
		return 0xFE2C
	}
	return 0xFEAA
}

// String returns format name.
func (f GoogleFormat) String() string {
	if f == GoogleFormatFE2C {
		return "fe2c"
	}
	return "feaa"
}

// ParseGoogleFormat parses "feaa" or "fe2c".
func ParseGoogleFormat(s string) (GoogleFormat, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "0x") {
	case "feaa":
		return GoogleFormatFEAA, nil
	case "fe2c":
		return GoogleFormatFE2C, nil
	default:
		return 0, fmt.Errorf("unknown google frame format %q", s)
	}
}

// LinkAddress is a link-layer device address, least-significant byte first.
// Index 5 holds the most significant byte, whose top two bits encode the subtype.
type LinkAddress [6]byte

// AddressSubtype is the random address subtype carried in the two MSBs.
type AddressSubtype int

const (
	NonResolvablePrivate AddressSubtype = iota
	ResolvablePrivate
	ReservedSubtype
	StaticRandom
)

// String returns the address in the conventional MSB-first colon notation.
func (a LinkAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// Subtype returns the random address subtype.
func (a LinkAddress) Subtype() AddressSubtype {
	return AddressSubtype(a[5] >> 6)
}

// ParseLinkAddress parses MSB-first colon notation.
func ParseLinkAddress(s string) (LinkAddress, error) {
	var a LinkAddress
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("invalid link address %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return a, fmt.Errorf("invalid link address %q", s)
		}
		a[5-i] = b[0]
	}
	return a, nil
}

// Identity is the key material and provisioning flag the tag advertises with.
type Identity struct {
	Apple       AppleKey
	Google      GoogleKey
	Provisioned bool
}
