// Package buildopts exposes the compile-time feature selection for the
// daemon. Each option is a constant flipped by a build tag, so disabled
// paths are dead-code-eliminated from release binaries:
//
//	-tags swap              enable the swap flush/restore collaborator
//	-tags rebootsuspendtest replace the power transition with a full reboot
//	-tags debugtrace        verbose phase-transition tracing
//
// Runtime configuration may still override the gateway and swap selection
// in development builds; the tags set the defaults.
package buildopts
