package beacon

import (
	"errors"
	"fmt"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// ErrNotTrackingFrame is returned for advertisements that carry neither frame.
var ErrNotTrackingFrame = errors.New("not a tracking frame")

// Observation is what a scanner learns from one advertisement.
type Observation struct {
	Protocol interfaces.Protocol
	Status   byte
	// KeyFragment is key[6:28] for Apple and the whole identifier for Google.
	KeyFragment []byte
	// KeyTopBits holds the two MSBs of key[0] (Apple only).
	KeyTopBits byte
	Hint       byte
}

// ParseApple decodes manufacturer data as reported by a scanner, i.e. with the
// company identifier split off from data.
func ParseApple(companyID uint16, data []byte) (*Observation, error) {
	if companyID != AppleCompanyID || len(data) < 1 || data[0] != appleTypeOfflineFinding {
		return nil, ErrNotTrackingFrame
	}
	if len(data) != AppleFrameLen-2 || data[1] != appleFrameBodyLen {
		return nil, fmt.Errorf("%w: offline-finding frame has %d bytes", ErrNotTrackingFrame, len(data))
	}
	return &Observation{
		Protocol:    interfaces.ProtocolAppleFindMy,
		Status:      data[2],
		KeyFragment: append([]byte(nil), data[3:25]...),
		KeyTopBits:  data[25] & 0x03,
		Hint:        data[26],
	}, nil
}

// ParseGoogle decodes service data under a 16-bit service UUID.
func ParseGoogle(serviceUUID uint16, data []byte) (*Observation, error) {
	switch serviceUUID {
	case 0xFEAA:
		if len(data) != 22 || data[0] != fmdnFrameTypeEID {
			return nil, ErrNotTrackingFrame
		}
		return &Observation{
			Protocol:    interfaces.ProtocolGoogleFMDN,
			KeyFragment: append([]byte(nil), data[1:21]...),
			Status:      data[21],
		}, nil
	case 0xFE2C:
		if len(data) != 21 {
			return nil, ErrNotTrackingFrame
		}
		return &Observation{
			Protocol:    interfaces.ProtocolGoogleFMDN,
			Status:      data[0],
			KeyFragment: append([]byte(nil), data[1:]...),
		}, nil
	default:
		return nil, ErrNotTrackingFrame
	}
}

// RecoverAppleKey rebuilds the full Apple key from the advertised address and frame.
func RecoverAppleKey(addr interfaces.LinkAddress, obs *Observation) (interfaces.AppleKey, error) {
	var key interfaces.AppleKey
	if obs == nil || obs.Protocol != interfaces.ProtocolAppleFindMy || len(obs.KeyFragment) != 22 {
		return key, ErrNotTrackingFrame
	}
	if addr.Subtype() != interfaces.StaticRandom {
		return key, fmt.Errorf("address %s is not static random", addr)
	}
	key[0] = (addr[5] & subtypeMask) | (obs.KeyTopBits << 6)
	for i := 1; i <= 5; i++ {
		key[i] = addr[5-i]
	}
	copy(key[6:], obs.KeyFragment)
	return key, nil
}
