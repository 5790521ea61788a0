package beacon

import (
	"github.com/ruteri/hybrid-tag/interfaces"
)

const fmdnFrameTypeEID = 0x40

// EncodeGoogle builds the FMDN service data for key in the given layout.
//
//	fe2c: 2C FE | 00 | key[0:20]            (23 bytes)
//	feaa: AA FE | 40 | key[0:20] | flags 00 (24 bytes)
func EncodeGoogle(format interfaces.GoogleFormat, key interfaces.GoogleKey) []byte {
	uuid := format.ServiceUUID()
	buf := make([]byte, format.PayloadLen())
	buf[0] = byte(uuid)
	buf[1] = byte(uuid >> 8)
	switch format {
	case interfaces.GoogleFormatFE2C:
		buf[2] = 0x00
		copy(buf[3:], key[:])
	default:
		buf[2] = fmdnFrameTypeEID
		copy(buf[3:23], key[:])
		buf[23] = 0x00
	}
	return buf
}
