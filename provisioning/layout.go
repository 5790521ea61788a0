package provisioning

import (
	"fmt"
	"strings"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// Mode selects how key material is delivered.
type Mode int

const (
	// ModeDualKey takes the Apple key as two 14-byte chunks and the Google key as one 20-byte write.
	ModeDualKey Mode = iota
	// ModeSingleKey takes one 28-byte Apple key as a 20-byte then an 8-byte chunk.
	ModeSingleKey
)

// String returns mode name.
func (m Mode) String() string {
	if m == ModeSingleKey {
		return "single"
	}
	return "dual"
}

// ParseMode parses "single" or "dual".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "dual", "dual-key":
		return ModeDualKey, nil
	case "single", "single-key":
		return ModeSingleKey, nil
	default:
		return 0, fmt.Errorf("unknown provisioning mode %q", s)
	}
}

const (
	singleKeyChunk1 = 20
	singleKeyChunk2 = interfaces.AppleKeySize - singleKeyChunk1
	dualKeyChunk    = interfaces.AppleKeySize / 2

	// AuthCodeLen is the exact length of the auth code write.
	AuthCodeLen = 8

	// DefaultAuthCode is used when no auth code is configured.
	DefaultAuthCode = "abcdefgh"

	// LocalName is the device name of the provisioning broadcast.
	LocalName = "HYBRID-TAG"
)

var (
	singleKeyLayout = interfaces.ServiceLayout{
		ServiceUUID: "8c5debdb-ad8d-4810-a31f-53862e79ee77",
		Characteristics: []interfaces.Characteristic{
			{Role: interfaces.CharAuth, UUID: "8c5debdf-ad8d-4810-a31f-53862e79ee77"},
			{Role: interfaces.CharKey, UUID: "8c5debde-ad8d-4810-a31f-53862e79ee77"},
			{Role: interfaces.CharStatus, UUID: "8c5debe0-ad8d-4810-a31f-53862e79ee77"},
		},
	}

	dualKeyLayout = interfaces.ServiceLayout{
		ServiceUUID: "12345678-1234-5678-1234-56789abcdef0",
		Characteristics: []interfaces.Characteristic{
			{Role: interfaces.CharAppleKey, UUID: "12345678-1234-5678-1234-56789abcdef1"},
			{Role: interfaces.CharGoogleKey, UUID: "12345678-1234-5678-1234-56789abcdef2"},
			{Role: interfaces.CharAuth, UUID: "12345678-1234-5678-1234-56789abcdef3"},
			{Role: interfaces.CharStatus, UUID: "12345678-1234-5678-1234-56789abcdef4"},
		},
	}
)

// Layout returns the GATT service layout for the mode.
func (m Mode) Layout() interfaces.ServiceLayout {
	if m == ModeSingleKey {
		return singleKeyLayout
	}
	return dualKeyLayout
}
