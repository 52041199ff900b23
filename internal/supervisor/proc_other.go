//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

// Without signals there is no graceful request; termination is a kill.
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
