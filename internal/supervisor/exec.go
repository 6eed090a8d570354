package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
	"github.com/MrSnakeDoc/devhost/internal/services"
)

// runLogged runs a short-lived command to completion with its output
// appended to the instance log.
func runLogged(ctx context.Context, c *services.Command, dir, logPath string) error {
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

func stopped(inst *domain.Instance, how string) {
	metrics.InstanceStops.WithLabelValues(string(inst.ServiceType), how).Inc()
}
