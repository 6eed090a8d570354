// Package execx runs external tools (brew, pm2, caddy, codesign, ...)
// behind an interface so callers can be tested without them.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type Runner interface {
	// Run executes name with args and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath reports where name would be found.
	LookPath(name string) (string, error)
}

// OS runs real processes.
type OS struct{}

func (OS) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(buf.String()))
	}
	return buf.Bytes(), nil
}

func (OS) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
