//go:build !windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// SetProcGrp starts cmd in its own process group so terminal signals aimed at
// us are not delivered to it.
func SetProcGrp(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// Interrupt asks p to finish cleanly.
func Interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
