// Package seal provides authenticated sealing for small persisted records,
// with automatic cipher suite selection and purpose-bound key derivation.
//
// The daemon seals the persisted resume token slot with a key derived from
// the device master key. A record that fails authentication is reported as
// ErrOpenFailed and must be treated as hostile: callers fall back to the
// never-matching sentinel rather than trusting any part of the payload.
//
// Suite selection follows hardware capability:
//   - AES-256-GCM where AES acceleration is present (amd64, arm64)
//   - ChaCha20-Poly1305 elsewhere
//
// Both suites use a random 12-byte nonce prepended to the sealed record and
// a 16-byte authentication tag.
package seal
