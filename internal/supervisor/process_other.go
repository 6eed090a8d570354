//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

func newDetachedCommand(path string, args []string, dir string, env []string, out *os.File) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd
}

func alive(pid int) bool {
	// FindProcess opens a handle on Windows and fails for dead pids.
	_, err := os.FindProcess(pid)
	return err == nil
}

func signalGroup(pid int, _ signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
