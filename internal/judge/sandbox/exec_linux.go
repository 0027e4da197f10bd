//go:build linux

package sandbox

import (
	"os"
	"syscall"
)

// procAttr places the child in its own process group so the whole tree
// can be killed together on a limit overrun.
func procAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the child's process group.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// maxRSSKB extracts the peak resident set size of the finished process.
func maxRSSKB(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		// Maxrss is reported in kilobytes on Linux.
		return int(ru.Maxrss)
	}
	return 0
}
