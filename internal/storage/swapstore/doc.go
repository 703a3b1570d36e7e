// Package swapstore implements the swap collaborator that carries staged
// memory pages across a power transition.
//
// Pages are staged in memory through WritePage and sealed into a Badger
// database by Flush, each page prefixed with a murmur3 checksum. Flush is
// called by the orchestrator after every subscriber has acknowledged the
// prepare directive and before the power gateway is invoked, so the image
// is durable before power can be lost. Restore runs after a validated wake
// and verifies every checksum before handing pages back; a mismatch fails
// the restore so the caller can fall back to the cold path instead of
// resuming over a corrupt image.
//
// The store is only wired into the daemon when the swap build option is
// enabled.
package swapstore
