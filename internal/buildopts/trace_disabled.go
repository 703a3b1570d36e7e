//go:build !debugtrace

package buildopts

// DebugTrace reports whether verbose phase-transition tracing is compiled
// in. It never changes behavior, only log volume.
const DebugTrace = false
