// Package registry maintains the ordered table of suspend/resume
// subscribers.
//
// Ordering is the load-bearing invariant: suspend notifications walk the
// table ascending (Early, Normal, Late; registration sequence within a
// class) and resume notifications walk the exact reverse. Only the
// ascending order is stored; the descending view is derived on read so the
// two can never drift apart.
package registry
