package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
)

func pm2Name(inst *domain.Instance) string {
	return "devhost-" + inst.ID
}

func (s *Supervisor) startPM2(ctx context.Context, inst *domain.Instance, fam services.Family, sc services.StartContext) (*Status, error) {
	if _, err := s.opts.Runner.LookPath(s.opts.PM2Bin); err != nil {
		return nil, fmt.Errorf("pm2 is required for %s (npm install -g pm2): %w", inst.ServiceType, err)
	}

	script := sc.BinaryPath
	if script == "" {
		script = fam.BinaryName()
	}
	name := pm2Name(inst)

	args := []string{"start", script, "--name", name, "--log", s.LogFile(inst.ID), "--"}
	args = append(args, fam.Args(sc)...)
	if out, err := s.opts.Runner.Run(ctx, s.opts.PM2Bin, args...); err != nil {
		return nil, fmt.Errorf("pm2 start failed: %w: %s", err, bytes.TrimSpace(out))
	}
	if err := os.WriteFile(s.pm2Marker(inst.ID), []byte(name+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pm2 marker: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.opts.ProbeDelay):
	}

	st := s.pm2Status(ctx, name)
	if !st.Running() {
		_ = s.stopPM2(ctx, inst)
		return nil, fmt.Errorf("%w: %s on port %d (is the port already in use? see %s)",
			ErrExitedEarly, inst.Name, inst.Port, s.LogFile(inst.ID))
	}
	s.log.Info("instance started under pm2",
		logger.String("id", inst.ID),
		logger.String("pm2", name),
		logger.Int("pid", st.PID))
	return &st, nil
}

func (s *Supervisor) pm2Status(ctx context.Context, name string) Status {
	out, err := s.opts.Runner.Run(ctx, s.opts.PM2Bin, "jlist")
	if err != nil {
		s.log.Debug("pm2 jlist failed", logger.String("pm2", name), logger.Error(err))
		return Status{State: StateStopped, PM2: name}
	}
	proc := gjson.GetBytes(jsonArray(out), `#(name=="`+name+`")`)
	if !proc.Exists() || proc.Get("pm2_env.status").String() != "online" {
		return Status{State: StateStopped, PM2: name}
	}
	return Status{State: StateRunning, PID: int(proc.Get("pid").Int()), PM2: name}
}

func (s *Supervisor) stopPM2(ctx context.Context, inst *domain.Instance) error {
	name := pm2Name(inst)
	if out, err := s.opts.Runner.Run(ctx, s.opts.PM2Bin, "stop", name); err != nil {
		s.log.Warn("pm2 stop failed", logger.String("pm2", name), logger.String("output", string(bytes.TrimSpace(out))), logger.Error(err))
	}
	if out, err := s.opts.Runner.Run(ctx, s.opts.PM2Bin, "delete", name); err != nil {
		s.log.Debug("pm2 delete failed", logger.String("pm2", name), logger.String("output", string(bytes.TrimSpace(out))), logger.Error(err))
	}
	stopped(inst, "pm2")
	return removeIfExists(s.pm2Marker(inst.ID))
}

// jsonArray skips any banner pm2 prints before its JSON output.
func jsonArray(out []byte) []byte {
	for off := 0; off < len(out); {
		i := bytes.IndexByte(out[off:], '[')
		if i < 0 {
			break
		}
		if candidate := out[off+i:]; gjson.ValidBytes(candidate) {
			return candidate
		}
		off += i + 1
	}
	return nil
}
