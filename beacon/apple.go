package beacon

import (
	"github.com/ruteri/hybrid-tag/interfaces"
)

const (
	// AppleCompanyID is the Bluetooth SIG company identifier for Apple.
	AppleCompanyID uint16 = 0x004C

	appleTypeOfflineFinding = 0x12
	appleFrameBodyLen       = 0x19

	// AppleFrameLen is the length of the manufacturer-specific data field.
	AppleFrameLen = 29
)

// EncodeApple builds the offline-finding manufacturer data for key.
//
// Layout: company id (LE) | type 0x12 | length 0x19 | status | key[6:28] |
// top two bits of key[0] | hint. The first six key bytes travel in the address.
func EncodeApple(key interfaces.AppleKey) []byte {
	buf := make([]byte, AppleFrameLen)
	buf[0] = byte(AppleCompanyID)
	buf[1] = byte(AppleCompanyID >> 8)
	buf[2] = appleTypeOfflineFinding
	buf[3] = appleFrameBodyLen
	buf[4] = 0x00
	copy(buf[5:27], key[6:])
	buf[27] = (key[0] >> 6) & 0x03
	buf[28] = 0x00
	return buf
}
