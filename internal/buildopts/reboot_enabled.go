//go:build rebootsuspendtest

package buildopts

// RebootOnSuspend reports whether suspend requests drive a full system
// reboot instead of the platform sleep transition.
const RebootOnSuspend = true
