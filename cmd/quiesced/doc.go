// Package main provides the entry point for quiesced.
//
// quiesced is the suspend coordination daemon. It owns the device's
// power transitions:
//
//   - Bus socket (Connect RPC over a Unix domain socket) where
//     subscribers register and receive suspend directives
//   - Two-phase suspend cycles: prepare/ack, power transition, wake
//     validation, resume or reinitialize
//   - Sealed token slot providing anti-replay across transitions
//   - Optional swap store persisting memory pages across the reboot
//     substitute
//   - Local admin HTTP plane with read-only diagnostics and metrics
//
// Usage:
//
//	quiesced [flags]
//	quiesced --config /etc/quiesced/config.yaml
//
// The daemon loads configuration, settles the persisted token slot,
// and starts the bus and admin listeners.
package main
