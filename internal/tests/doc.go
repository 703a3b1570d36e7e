// Package tests holds the end-to-end suite for the quiesce daemon stack.
//
// Unlike the package-level tests, these assemble the real persistence
// path: a sealed token slot on disk, the manual gateway, the swap store,
// and the bus server on a Unix socket, with pkg/subscriber clients on the
// other end. They cover what no single package can: a suspend cycle that
// crosses the gateway and comes back, and startup recovery across a
// simulated reboot of the whole stack.
package tests
