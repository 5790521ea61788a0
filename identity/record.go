package identity

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/sigurn/crc16"
)

// ErrCorruptRecord is returned when a stored identity record fails validation.
var ErrCorruptRecord = errors.New("corrupt identity record")

const (
	recordMagic0  = 'H'
	recordMagic1  = 'T'
	recordVersion = 1

	flagProvisioned = 0x01

	// magic(2) | version(1) | flags(1) | apple(28) | google(20) | crc16(2)
	recordLen = 2 + 1 + 1 + interfaces.AppleKeySize + interfaces.GoogleKeySize + 2
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// EncodeRecord serializes id into the fixed-layout persisted record.
// The trailing CRC16-MODBUS covers every preceding byte, little endian.
func EncodeRecord(id interfaces.Identity) []byte {
	buf := make([]byte, recordLen)
	buf[0] = recordMagic0
	buf[1] = recordMagic1
	buf[2] = recordVersion
	if id.Provisioned {
		buf[3] = flagProvisioned
	}
	off := 4
	off += copy(buf[off:], id.Apple[:])
	off += copy(buf[off:], id.Google[:])
	binary.LittleEndian.PutUint16(buf[off:], crc16.Checksum(buf[:off], crcTable))
	return buf
}

// DecodeRecord parses a record produced by EncodeRecord.
func DecodeRecord(buf []byte) (interfaces.Identity, error) {
	var id interfaces.Identity
	if len(buf) != recordLen {
		return id, fmt.Errorf("%w: length %d, expected %d", ErrCorruptRecord, len(buf), recordLen)
	}
	if buf[0] != recordMagic0 || buf[1] != recordMagic1 {
		return id, fmt.Errorf("%w: bad magic", ErrCorruptRecord)
	}
	if buf[2] != recordVersion {
		return id, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, buf[2])
	}

	crcOff := recordLen - 2
	want := binary.LittleEndian.Uint16(buf[crcOff:])
	if got := crc16.Checksum(buf[:crcOff], crcTable); got != want {
		return id, fmt.Errorf("%w: checksum mismatch (got %04x, want %04x)", ErrCorruptRecord, got, want)
	}

	id.Provisioned = buf[3]&flagProvisioned != 0
	off := 4
	off += copy(id.Apple[:], buf[off:])
	copy(id.Google[:], buf[off:])
	return id, nil
}
