// Package seal provides authenticated sealing for small persisted records.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum master key length for derivation.
const MinKeyLength = 16

// ErrKeyTooShort is returned when a master key is below MinKeyLength.
var ErrKeyTooShort = errors.New("seal: master key too short (minimum 16 bytes)")

// DeriveKey derives a purpose-bound subkey from a master key using HKDF.
// Distinct purposes yield independent keys, so one master key can seal the
// token slot and other records without nonce or key reuse across purposes.
func DeriveKey(masterKey []byte, purpose string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	return key, nil
}

// GenerateKey generates a random key of the specified length.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("seal: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey securely zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
