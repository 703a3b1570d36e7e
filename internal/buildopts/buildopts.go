package buildopts

import "fmt"

// Summary renders the compiled-in option set for startup logging.
func Summary() string {
	return fmt.Sprintf("swap=%t reboot_on_suspend=%t debug_trace=%t",
		Swap, RebootOnSuspend, DebugTrace)
}
