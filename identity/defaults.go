package identity

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/ruteri/hybrid-tag/interfaces"
)

const (
	defaultAppleKeyB64  = "WPS9RJBtGkPLvMvFBhvKkofMabkdsdiPzLBSzg=="
	defaultGoogleKeyHex = "34aaaffb11e8bf854630bd2ce56fa6b06603b20b"
)

// Defaults returns the compiled-in identity used until a provisioning commit.
func Defaults() interfaces.Identity {
	apple, err := base64.StdEncoding.DecodeString(defaultAppleKeyB64)
	if err != nil {
		panic(err)
	}
	google, err := hex.DecodeString(defaultGoogleKeyHex)
	if err != nil {
		panic(err)
	}

	var id interfaces.Identity
	copy(id.Apple[:], apple)
	copy(id.Google[:], google)
	return id
}
