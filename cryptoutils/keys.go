package cryptoutils

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/hybrid-tag/interfaces"
)

// ErrInvalidKeyEncoding is returned when key material is neither hex nor base64.
var ErrInvalidKeyEncoding = errors.New("key material is neither hex nor base64")

// ParseKeyMaterial decodes a key given as 0x-prefixed hex, bare hex or base64.
// Bare hex is tried first when the string consists of hex digits only.
func ParseKeyMaterial(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKeyEncoding
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode("0x" + s[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		return b, nil
	}

	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidKeyEncoding
}

// ParseAppleKey decodes and length-checks an Apple key.
func ParseAppleKey(s string) (interfaces.AppleKey, error) {
	b, err := ParseKeyMaterial(s)
	if err != nil {
		return interfaces.AppleKey{}, err
	}
	return interfaces.NewAppleKey(b)
}

// ParseGoogleKey decodes and length-checks a Google key.
func ParseGoogleKey(s string) (interfaces.GoogleKey, error) {
	b, err := ParseKeyMaterial(s)
	if err != nil {
		return interfaces.GoogleKey{}, err
	}
	return interfaces.NewGoogleKey(b)
}
