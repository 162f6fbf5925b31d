// +build windows

package validator

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

// interrupt kills the process: Windows cannot deliver os.Interrupt to another
// process.
func interrupt(p *os.Process) error {
	return p.Kill()
}
