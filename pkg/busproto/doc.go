// Package busproto defines the wire protocol of the quiesce message bus.
//
// The bus speaks the Connect RPC protocol with a CBOR codec. All messages
// use integer-keyed CBOR maps with deterministic encoding, so the same
// logical message always produces the same bytes. Procedures are declared
// by hand; there is no generated code.
//
// The package is self-contained on purpose: subscriber processes link it
// without pulling in any daemon internals.
package busproto
