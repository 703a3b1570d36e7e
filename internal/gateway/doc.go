// Package gateway abstracts the platform power transition.
//
// A Gateway's Enter call is the last step of a suspend cycle: it runs only
// after every subscriber has acknowledged and the token slot is durable.
// It blocks for the whole suspended period and hands back a wake claim for
// the orchestrator to validate against the slot.
//
// Three implementations ship:
//
//   - HAL writes the platform sleep state to a control file and survives
//     the transition in place, like suspend-to-RAM.
//   - Reboot trades the sleep for a full system reset. The process dies;
//     the next daemon startup validates the persisted token instead.
//   - Manual blocks until a wake is injected, for development and tests.
//
// The token travels across the transition in a handoff file next to the
// daemon's data; the wake side presents it back as its claim. The claim is
// consumed on first read.
package gateway
