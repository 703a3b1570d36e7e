// Package domain defines the core domain models for Quiesce.
package domain

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Token constants.
const (
	// TokenPrefix is the prefix for encoded suspend tokens (sensitive).
	TokenPrefix = "qstk_"

	// NonceLength is the fixed width of the token nonce in bytes.
	NonceLength = 16

	// TokenBinaryLength is the marshaled token width:
	// nonce (16) + epoch (8, big-endian) + origin (1).
	TokenBinaryLength = NonceLength + 8 + 1

	// TokenBodyLength is the Base64 RawURL encoded length (25 bytes -> 34 chars).
	TokenBodyLength = 34

	// TokenStringLength is the total encoded token length (prefix + body).
	TokenStringLength = 5 + TokenBodyLength
)

// Origin records which path minted a token. It is part of the token value
// and participates in equality: a token minted at boot can never satisfy a
// wake that expects a token minted by the suspend path.
type Origin uint8

const (
	// OriginBoot marks a token minted at cold boot. The sentinel carries it.
	OriginBoot Origin = 0

	// OriginSuspend marks a token minted by a suspend cycle through a
	// genuine power transition.
	OriginSuspend Origin = 1

	// OriginSuspendTest marks a token minted by a suspend cycle through
	// the reboot substitute. Keeping it distinct means a post-reboot-test
	// wake can never pass for a real power-loss wake, in the slot or in
	// the startup report.
	OriginSuspendTest Origin = 2
)

// String returns the origin name for logs and status output.
func (o Origin) String() string {
	switch o {
	case OriginBoot:
		return "boot"
	case OriginSuspend:
		return "suspend"
	case OriginSuspendTest:
		return "suspend-test"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// Gateway kinds as reported by Gateway.Kind().
const (
	GatewayKindHAL    = "hal"
	GatewayKindReboot = "reboot"
	GatewayKindManual = "manual"
)

// OriginForGateway returns the origin the suspend path mints for a
// transition through the given gateway kind. Only the reboot substitute
// gets the test origin.
func OriginForGateway(kind string) Origin {
	if kind == GatewayKindReboot {
		return OriginSuspendTest
	}
	return OriginSuspend
}

// Nonce is the fixed-width random component of a suspend token.
type Nonce [NonceLength]byte

// NewNonce fills a nonce from the given entropy source.
func NewNonce(r io.Reader) (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Nonce{}, ErrInternalServer.WithDetails("nonce generation failed").WithCause(err)
	}
	return n, nil
}

// SuspendToken is the resume-validation token: a fixed-width nonce, the
// monotonic suspend epoch, and the minting origin. Validation is exact
// equality over all three fields; there is no notion of a partial match.
type SuspendToken struct {
	Nonce  Nonce
	Epoch  uint64
	Origin Origin
}

// Sentinel returns the never-matching boot token. The persisted slot is
// initialized to it at cold boot so that a wake claim arriving before any
// suspend has run always fails validation.
func Sentinel() SuspendToken {
	return SuspendToken{Origin: OriginBoot}
}

// IsSentinel reports whether the token is the boot sentinel.
func (t SuspendToken) IsSentinel() bool {
	return t.Origin == OriginBoot && t.Epoch == 0 && t.Nonce == Nonce{}
}

// Equal reports exact equality of two tokens. The comparison runs in
// constant time over the marshaled form so that a forged wake claim learns
// nothing from timing.
func (t SuspendToken) Equal(other SuspendToken) bool {
	a := t.marshal()
	b := other.marshal()
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func (t SuspendToken) marshal() [TokenBinaryLength]byte {
	var buf [TokenBinaryLength]byte
	copy(buf[:NonceLength], t.Nonce[:])
	binary.BigEndian.PutUint64(buf[NonceLength:NonceLength+8], t.Epoch)
	buf[NonceLength+8] = byte(t.Origin)
	return buf
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t SuspendToken) MarshalBinary() ([]byte, error) {
	buf := t.marshal()
	return buf[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *SuspendToken) UnmarshalBinary(data []byte) error {
	if len(data) != TokenBinaryLength {
		return ErrTokenMalformed.WithDetails(fmt.Sprintf("want %d bytes, got %d", TokenBinaryLength, len(data)))
	}
	copy(t.Nonce[:], data[:NonceLength])
	t.Epoch = binary.BigEndian.Uint64(data[NonceLength : NonceLength+8])
	t.Origin = Origin(data[NonceLength+8])
	return nil
}

// Encode returns the external string form: qstk_ + Base64 RawURL body.
// The encoded form is sensitive; log it only through MaskToken.
func (t SuspendToken) Encode() string {
	buf := t.marshal()
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(buf[:])
}

// DecodeToken parses the external string form produced by Encode.
func DecodeToken(s string) (SuspendToken, error) {
	if len(s) != TokenStringLength || !strings.HasPrefix(s, TokenPrefix) {
		return SuspendToken{}, ErrTokenMalformed.WithDetails("bad prefix or length")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[len(TokenPrefix):])
	if err != nil {
		return SuspendToken{}, ErrTokenMalformed.WithCause(err)
	}
	var t SuspendToken
	if err := t.UnmarshalBinary(raw); err != nil {
		return SuspendToken{}, err
	}
	return t, nil
}

// ValidateTokenFormat checks if a string has valid encoded token format.
func ValidateTokenFormat(s string) bool {
	_, err := DecodeToken(s)
	return err == nil
}

// MaskToken masks an encoded token for safe logging.
// Example: qstk_ABC...xyz
func MaskToken(encoded string) string {
	if len(encoded) < 10 {
		return "***REDACTED***"
	}
	if strings.HasPrefix(encoded, TokenPrefix) {
		prefix := encoded[:5]
		body := encoded[5:]
		if len(body) > 6 {
			return prefix + body[:3] + "..." + body[len(body)-3:]
		}
		return prefix + "***"
	}
	return "***REDACTED***"
}

// Masked returns the log-safe form of the token. Status surfaces show the
// epoch and origin in clear; the nonce stays masked.
func (t SuspendToken) Masked() string {
	return MaskToken(t.Encode())
}
