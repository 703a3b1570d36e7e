// Package seal provides authenticated sealing for small persisted records,
// with automatic cipher suite selection.
//
// It selects the optimal suite based on hardware capabilities:
// - AES-GCM when AES hardware acceleration is available
// - ChaCha20-Poly1305 otherwise
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"runtime"
)

// Suite identifies the sealing algorithm.
type Suite string

const (
	SuiteAESGCM   Suite = "aes-gcm"
	SuiteChaCha20 Suite = "chacha20-poly1305"
)

// ErrOpenFailed is returned when a sealed record fails authentication.
// Callers must treat the record as hostile, not merely corrupt.
var ErrOpenFailed = errors.New("seal: record failed authentication")

// Sealer provides authenticated encryption for one keyed purpose.
type Sealer interface {
	// Suite returns the sealing suite.
	Suite() Suite

	// Seal encrypts and authenticates plaintext, binding additionalData.
	// The nonce is generated internally and prepended to the output.
	Seal(plaintext, additionalData []byte) ([]byte, error)

	// Open authenticates and decrypts a sealed record.
	Open(sealed, additionalData []byte) ([]byte, error)

	// Overhead returns nonce plus tag size in bytes.
	Overhead() int
}

// New creates a sealer with the given key, selecting the suite by hardware.
func New(key []byte) (Sealer, error) {
	if hasAESAcceleration() {
		return NewAESGCM(key)
	}
	return NewChaCha20(key)
}

// NewWithSuite creates a sealer of the specified suite.
func NewWithSuite(key []byte, suite Suite) (Sealer, error) {
	switch suite {
	case SuiteAESGCM:
		return NewAESGCM(key)
	case SuiteChaCha20:
		return NewChaCha20(key)
	default:
		return nil, errors.New("seal: unknown suite: " + string(suite))
	}
}

// hasAESAcceleration checks if AES hardware acceleration is available.
// On amd64 and arm64, Go's crypto/aes uses hardware acceleration when present.
func hasAESAcceleration() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

// baseSealer provides common functionality for sealers.
type baseSealer struct {
	aead cipher.AEAD
}

// Overhead returns nonce plus authentication tag size in bytes.
func (s *baseSealer) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

func (s *baseSealer) seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Prepend nonce to the sealed record.
	return s.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (s *baseSealer) open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, ErrOpenFailed
	}

	nonce := sealed[:s.aead.NonceSize()]
	sealed = sealed[s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
