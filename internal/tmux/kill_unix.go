//go:build !windows

package tmux

import "syscall"

// killProcessGroupForce sends SIGKILL to a process group.
func killProcessGroupForce(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
