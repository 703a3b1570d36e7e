// Package connection provides daemon connectivity for quiescectl.
//
// The daemon exposes two surfaces and this package speaks to both:
//
//   - socket.go: bus socket client (Connect RPC over the Unix socket),
//     used for triggering suspend cycles and live status
//   - http.go: admin plane HTTP client, used for the read-only
//     diagnostic endpoints (history, subscribers, version, health)
//   - manager.go: caches clients for the current target so a REPL
//     session reuses connections across commands
package connection
