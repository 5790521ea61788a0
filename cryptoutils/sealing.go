package cryptoutils

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 16

var (
	// ErrSealedDataTooShort is returned when a sealed blob cannot hold salt, nonce and tag.
	ErrSealedDataTooShort = errors.New("sealed data too short")
	// ErrUnsealFailed is returned when authentication of a sealed blob fails.
	ErrUnsealFailed = errors.New("failed to unseal data")
)

// Sealer encrypts records at rest with a key derived from a passphrase.
//
// Sealed format: [salt (16 bytes)][nonce (24 bytes)][ciphertext + tag]
type Sealer struct {
	passphrase []byte
}

// NewSealer creates a sealer for the given passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if len(passphrase) < 8 {
		return nil, errors.New("sealing passphrase must be at least 8 characters")
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

func (s *Sealer) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// Seal encrypts plaintext, binding it to associatedData.
func (s *Sealer) Seal(plaintext, associatedData []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, associatedData), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed, associatedData []byte) ([]byte, error) {
	if len(sealed) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrSealedDataTooShort
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+chacha20poly1305.NonceSizeX]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed[saltSize+chacha20poly1305.NonceSizeX:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return plaintext, nil
}

// ConstantTimeEqual compares two secrets without leaking where they differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe zeroes a buffer that held secret material.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
