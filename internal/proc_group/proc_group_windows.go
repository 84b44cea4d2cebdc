//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// SetProcGrp starts cmd in a new process group so console control events
// aimed at us are not delivered to it.
func SetProcGrp(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Interrupt stops p. Windows has no portable interrupt for a child process.
func Interrupt(p *os.Process) error {
	return p.Kill()
}
