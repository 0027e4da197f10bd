//go:build !linux

package sandbox

import (
	"os"
	"syscall"
)

func procAttr() *syscall.SysProcAttr {
	return nil
}

// killGroup kills only the direct child on non-Linux platforms.
func killGroup(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}

// maxRSSKB is unavailable without rusage; report zero.
func maxRSSKB(state *os.ProcessState) int {
	return 0
}
