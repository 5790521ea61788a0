package provisioning

import (
	"errors"
	"fmt"
)

// ATTCode is the attribute protocol error code returned to the writing peer.
type ATTCode byte

const (
	ATTWriteNotPermitted           ATTCode = 0x03
	ATTInsufficientAuthentication  ATTCode = 0x05
	ATTInvalidAttributeValueLength ATTCode = 0x0D
	ATTInsufficientResources       ATTCode = 0x11

	// Application error range 0x80-0x9F.
	ATTAuthFailed    ATTCode = 0x80
	ATTOutOfSequence ATTCode = 0x81
)

var (
	// ErrInvalidLength is returned for writes whose size does not match the expected chunk.
	ErrInvalidLength = errors.New("invalid attribute value length")

	// ErrOutOfSequence is returned for writes that arrive in the wrong order or state.
	ErrOutOfSequence = errors.New("write out of sequence")

	// ErrUnauthenticated is returned for key writes before a successful auth write.
	ErrUnauthenticated = errors.New("session not authenticated")

	// ErrAuthFailed is returned when the auth code does not match.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnknownCharacteristic is returned for writes to characteristics outside the active layout.
	ErrUnknownCharacteristic = errors.New("characteristic not writable in this layout")

	// ErrCommitRejected is returned when the deferred worker cannot take the commit.
	ErrCommitRejected = errors.New("commit handoff rejected")
)

var errorCodes = map[error]ATTCode{
	ErrInvalidLength:         ATTInvalidAttributeValueLength,
	ErrOutOfSequence:         ATTOutOfSequence,
	ErrUnauthenticated:       ATTInsufficientAuthentication,
	ErrAuthFailed:            ATTAuthFailed,
	ErrUnknownCharacteristic: ATTWriteNotPermitted,
	ErrCommitRejected:        ATTInsufficientResources,
}

// ProtocolError is a rejected provisioning write.
type ProtocolError struct {
	Code   ATTCode
	Err    error
	Detail string
}

func newProtocolError(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:   errorCodes[err],
		Err:    err,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v (att 0x%02x): %s", e.Err, byte(e.Code), e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// CodeOf returns the ATT code carried by err, or 0x0E (unlikely error) for anything else.
func CodeOf(err error) ATTCode {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0x0E
}
