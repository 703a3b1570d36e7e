//go:build !swap

package buildopts

// Swap reports whether the swap flush/restore collaborator is compiled in.
const Swap = false
