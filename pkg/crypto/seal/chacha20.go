// Package seal provides authenticated sealing for small persisted records.
package seal

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20 implements ChaCha20-Poly1305 authenticated sealing.
type ChaCha20 struct {
	baseSealer
}

// NewChaCha20 creates a new ChaCha20-Poly1305 sealer.
//
// Key must be exactly 32 bytes.
func NewChaCha20(key []byte) (*ChaCha20, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("invalid key size for ChaCha20-Poly1305: must be 32 bytes")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return &ChaCha20{
		baseSealer: baseSealer{aead: aead},
	}, nil
}

// Suite returns the sealing suite.
func (s *ChaCha20) Suite() Suite {
	return SuiteChaCha20
}

// Seal encrypts and authenticates plaintext, binding additionalData.
func (s *ChaCha20) Seal(plaintext, additionalData []byte) ([]byte, error) {
	return s.seal(plaintext, additionalData)
}

// Open authenticates and decrypts a sealed record.
func (s *ChaCha20) Open(sealed, additionalData []byte) ([]byte, error) {
	return s.open(sealed, additionalData)
}
