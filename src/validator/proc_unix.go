// +build !windows

package validator

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcAttr starts the validator in its own process group, so that signals
// sent to the harness's terminal are not forwarded to it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
