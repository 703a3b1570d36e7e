// Package busserver hosts the quiesce message bus on a Unix domain socket.
//
// The bus speaks the Connect RPC protocol with the CBOR codec from
// pkg/busproto. Unary procedures cover registration, acknowledgements,
// triggering, and status; directives flow to subscribers over a
// server-stream per registration (Listen). Local socket access stands in
// for authentication: any process that can open the socket is trusted,
// the filesystem mode on the socket is the access control.
package busserver
