package provisioning

import (
	"errors"
	"fmt"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// PlannedWrite is one write a provisioning client sends, in order.
type PlannedWrite struct {
	Role   interfaces.CharacteristicRole
	UUID   string
	Offset int
	Data   []byte
}

// PlanWrites returns the ordered writes that provision apple and google in mode.
// Single-key mode carries the Apple key only and rejects a Google key.
func PlanWrites(mode Mode, authCode string, apple *interfaces.AppleKey, google *interfaces.GoogleKey) ([]PlannedWrite, error) {
	if len(authCode) != AuthCodeLen {
		return nil, fmt.Errorf("auth code must be %d bytes, got %d", AuthCodeLen, len(authCode))
	}
	if apple == nil {
		return nil, errors.New("apple key is required")
	}

	layout := mode.Layout()
	uuid := func(role interfaces.CharacteristicRole) string {
		u, _ := layout.UUIDFor(role)
		return u
	}

	writes := []PlannedWrite{{Role: interfaces.CharAuth, UUID: uuid(interfaces.CharAuth), Data: []byte(authCode)}}

	switch mode {
	case ModeSingleKey:
		if google != nil {
			return nil, errors.New("single-key mode cannot provision a google key")
		}
		writes = append(writes,
			PlannedWrite{Role: interfaces.CharKey, UUID: uuid(interfaces.CharKey), Offset: 0, Data: append([]byte(nil), apple[:singleKeyChunk1]...)},
			PlannedWrite{Role: interfaces.CharKey, UUID: uuid(interfaces.CharKey), Offset: singleKeyChunk1, Data: append([]byte(nil), apple[singleKeyChunk1:]...)},
		)
	default:
		if google == nil {
			return nil, errors.New("dual-key mode requires a google key")
		}
		writes = append(writes,
			PlannedWrite{Role: interfaces.CharAppleKey, UUID: uuid(interfaces.CharAppleKey), Offset: 0, Data: append([]byte(nil), apple[:dualKeyChunk]...)},
			PlannedWrite{Role: interfaces.CharAppleKey, UUID: uuid(interfaces.CharAppleKey), Offset: dualKeyChunk, Data: append([]byte(nil), apple[dualKeyChunk:]...)},
			PlannedWrite{Role: interfaces.CharGoogleKey, UUID: uuid(interfaces.CharGoogleKey), Offset: 0, Data: append([]byte(nil), google[:]...)},
		)
	}
	return writes, nil
}

// DecodeStatus parses the status characteristic value written by ReadStatus.
func DecodeStatus(b []byte) (State, CommitResult, Mode, error) {
	if len(b) != 3 {
		return 0, 0, 0, fmt.Errorf("status is %d bytes, expected 3", len(b))
	}
	return State(b[0]), CommitResult(b[1]), Mode(b[2]), nil
}
