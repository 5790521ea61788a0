package cryptoutils

import (
	"testing"

	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	sealer, err := NewSealer("correct horse battery")
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Identity record", data: make([]byte, 53)},
		{name: "Binary data", data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD}},
		{name: "Empty data", data: []byte{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := sealer.Seal(tc.data, []byte("identity"))
			require.NoError(t, err)
			assert.NotEqual(t, tc.data, sealed)

			opened, err := sealer.Open(sealed, []byte("identity"))
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), len(opened))
			if len(tc.data) > 0 {
				assert.Equal(t, tc.data, opened)
			}

			_, err = sealer.Open(sealed, []byte("other-record"))
			assert.ErrorIs(t, err, ErrUnsealFailed, "associated data must be bound")
		})
	}
}

func TestOpenWithWrongPassphrase(t *testing.T) {
	a, err := NewSealer("passphrase-one")
	require.NoError(t, err)
	b, err := NewSealer("passphrase-two")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"), nil)
	require.NoError(t, err)

	_, err = b.Open(sealed, nil)
	assert.ErrorIs(t, err, ErrUnsealFailed)

	_, err = a.Open(sealed[:10], nil)
	assert.ErrorIs(t, err, ErrSealedDataTooShort)

	_, err = NewSealer("short")
	assert.Error(t, err)
}

func TestParseKeyMaterial(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{"base64 apple default", "WPS9RJBtGkPLvMvFBhvKkofMabkdsdiPzLBSzg==", 28, false},
		{"bare hex google default", "34aaaffb11e8bf854630bd2ce56fa6b06603b20b", 20, false},
		{"0x hex", "0x34aaaffb11e8bf854630bd2ce56fa6b06603b20b", 20, false},
		{"0X hex", "0X34AAAFFB11E8BF854630BD2CE56FA6B06603B20B", 20, false},
		{"odd 0x hex", "0x123", 0, true},
		{"garbage", "!!not-a-key!!", 0, true},
		{"empty", "  ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseKeyMaterial(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, b, tt.wantLen)
		})
	}
}

func TestParseTypedKeys(t *testing.T) {
	apple, err := ParseAppleKey("WPS9RJBtGkPLvMvFBhvKkofMabkdsdiPzLBSzg==")
	require.NoError(t, err)
	assert.Equal(t, byte(0x58), apple[0])

	_, err = ParseAppleKey("34aaaffb11e8bf854630bd2ce56fa6b06603b20b")
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyLength)

	google, err := ParseGoogleKey("34aaaffb11e8bf854630bd2ce56fa6b06603b20b")
	require.NoError(t, err)
	assert.Equal(t, "34aaaffb11e8bf854630bd2ce56fa6b06603b20b", google.String())
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("abcdefgh"), []byte("abcdefgh")))
	assert.False(t, ConstantTimeEqual([]byte("abcdefgh"), []byte("abcdefgX")))
	assert.False(t, ConstantTimeEqual([]byte("abcdefgh"), []byte("abcdefg")))

	buf := []byte{1, 2, 3}
	Wipe(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}
