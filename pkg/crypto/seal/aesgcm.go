// Package seal provides authenticated sealing for small persisted records.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AESGCM implements AES-256-GCM authenticated sealing.
type AESGCM struct {
	baseSealer
}

// NewAESGCM creates a new AES-256-GCM sealer.
//
// Key must be exactly 32 bytes.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, errors.New("invalid key size for AES-256-GCM: must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AESGCM{
		baseSealer: baseSealer{aead: aead},
	}, nil
}

// Suite returns the sealing suite.
func (s *AESGCM) Suite() Suite {
	return SuiteAESGCM
}

// Seal encrypts and authenticates plaintext, binding additionalData.
func (s *AESGCM) Seal(plaintext, additionalData []byte) ([]byte, error) {
	return s.seal(plaintext, additionalData)
}

// Open authenticates and decrypts a sealed record.
func (s *AESGCM) Open(sealed, additionalData []byte) ([]byte, error) {
	return s.open(sealed, additionalData)
}
