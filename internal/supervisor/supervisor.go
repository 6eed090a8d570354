// Package supervisor starts, stops and tracks service processes.
//
// State lives in PID files rather than in-memory child handles so that a
// restarted daemon (or the CLI) sees the same picture as the process that
// spawned the service.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/execx"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
	"github.com/MrSnakeDoc/devhost/internal/services"
)

var (
	ErrAlreadyRunning = errors.New("instance is already running")
	ErrExitedEarly    = errors.New("process exited right after start")
	ErrNotInstalled   = errors.New("binary not installed")
)

// InitSentinel marks a data directory whose first-run bootstrap completed.
const InitSentinel = ".devhost-initialized"

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

type Status struct {
	State State  `json:"state"`
	PID   int    `json:"pid,omitempty"`
	PM2   string `json:"pm2,omitempty"` // managed process name
}

func (s Status) Running() bool { return s.State == StateRunning }

// BinaryResolver finds the executable for an installed version.
type BinaryResolver interface {
	Resolve(service, version string) (binaries.Resolved, error)
}

// TunnelConfigWriter renders a tunnel client's config file before it starts.
type TunnelConfigWriter interface {
	WriteTunnelConfig(path string, inst *domain.Instance) error
}

type Options struct {
	PidsDir     string
	LogsDir     string
	DataDir     func(instanceID string) string
	Binaries    BinaryResolver
	Tunnels     TunnelConfigWriter
	Runner      execx.Runner
	PM2Bin      string
	StopTimeout time.Duration // SIGTERM grace period before SIGKILL
	ProbeDelay  time.Duration // liveness probe delay after spawn
	Log         logger.Logger
}

type Supervisor struct {
	opts Options
	log  logger.Logger

	mu sync.Mutex
	// exited is closed by the reaper goroutine of each child we spawned.
	exited map[int]chan struct{}
}

func New(opts Options) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = 500 * time.Millisecond
	}
	if opts.PM2Bin == "" {
		opts.PM2Bin = "pm2"
	}
	if opts.Runner == nil {
		opts.Runner = execx.OS{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Supervisor{opts: opts, log: opts.Log, exited: map[int]chan struct{}{}}
}

func (s *Supervisor) PIDFile(id string) string {
	return filepath.Join(s.opts.PidsDir, id+".pid")
}

func (s *Supervisor) pm2Marker(id string) string {
	return filepath.Join(s.opts.PidsDir, id+".pm2")
}

func (s *Supervisor) LogFile(id string) string {
	return filepath.Join(s.opts.LogsDir, id+".log")
}

// StartOptions carries routing context some families need.
type StartOptions struct {
	TLD string
	SSL bool
}

// Start launches the instance and returns once it survived the liveness
// probe. A process that exits before the probe leaves no PID file behind.
func (s *Supervisor) Start(ctx context.Context, inst *domain.Instance, so StartOptions) (*Status, error) {
	st, err := s.start(ctx, inst, so)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.InstanceStarts.WithLabelValues(string(inst.ServiceType), result).Inc()
	return st, err
}

func (s *Supervisor) start(ctx context.Context, inst *domain.Instance, so StartOptions) (*Status, error) {
	if st := s.Status(ctx, inst); st.Running() {
		return nil, fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, inst.Name, st.PID)
	}

	fam, err := services.Lookup(inst.ServiceType)
	if err != nil {
		return nil, err
	}

	for _, d := range []string{s.opts.PidsDir, s.opts.LogsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	dataDir := s.opts.DataDir(inst.ID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	res, err := s.opts.Binaries.Resolve(string(inst.ServiceType), inst.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNotInstalled, inst.ServiceType, inst.Version, err)
	}

	sc := services.StartContext{
		Instance:   inst,
		BinaryPath: res.Path,
		BinaryDir:  res.Dir,
		DataDir:    dataDir,
		TLD:        so.TLD,
		SSL:        so.SSL,
	}

	switch fam.Management() {
	case services.ManagedPM2:
		return s.startPM2(ctx, inst, fam, sc)
	case services.ManagedTunnel:
		sc.ConfigFile = filepath.Join(dataDir, "frpc.yaml")
		if s.opts.Tunnels == nil {
			return nil, errors.New("tunnel config writer not configured")
		}
		if err := s.opts.Tunnels.WriteTunnelConfig(sc.ConfigFile, inst); err != nil {
			return nil, fmt.Errorf("failed to generate tunnel config: %w", err)
		}
	}

	if res.Virtual {
		return nil, fmt.Errorf("%w: %s is a virtual install and cannot be spawned directly", ErrNotInstalled, inst.ServiceType)
	}

	if err := s.initialize(ctx, inst, fam, sc); err != nil {
		return nil, err
	}

	pid, err := s.spawn(inst, fam, sc)
	if err != nil {
		return nil, err
	}

	if err := s.probe(inst, pid); err != nil {
		return nil, err
	}

	s.log.Info("instance started",
		logger.String("id", inst.ID),
		logger.String("name", inst.Name),
		logger.Int("pid", pid),
		logger.Int("port", inst.Port))
	return &Status{State: StateRunning, PID: pid}, nil
}

// initialize runs the family's one-time bootstrap. The sentinel file, not
// the data directory contents, decides whether it already ran.
func (s *Supervisor) initialize(ctx context.Context, inst *domain.Instance, fam services.Family, sc services.StartContext) error {
	cmd := fam.InitCommand(sc)
	if cmd == nil {
		return nil
	}
	sentinel := filepath.Join(sc.DataDir, InitSentinel)
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	}

	s.log.Info("initializing data directory",
		logger.String("id", inst.ID),
		logger.String("tool", cmd.Path))

	if err := runLogged(ctx, cmd, sc.DataDir, s.LogFile(inst.ID)); err != nil {
		return fmt.Errorf("first-run initialization of %s failed (see %s): %w", inst.Name, s.LogFile(inst.ID), err)
	}
	if err := os.WriteFile(sentinel, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write init sentinel: %w", err)
	}
	return nil
}

func (s *Supervisor) spawn(inst *domain.Instance, fam services.Family, sc services.StartContext) (int, error) {
	logFile, err := os.OpenFile(s.LogFile(inst.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		_ = logFile.Close()
	}()

	cmd := newDetachedCommand(sc.BinaryPath, fam.Args(sc), sc.DataDir, fam.Env(sc), logFile)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn %s: %w", sc.BinaryPath, err)
	}
	pid := cmd.Process.Pid

	done := make(chan struct{})
	s.mu.Lock()
	s.exited[pid] = done
	s.mu.Unlock()
	go func() {
		_ = cmd.Wait()
		close(done)
		s.mu.Lock()
		delete(s.exited, pid)
		s.mu.Unlock()
	}()

	if err := writePID(s.PIDFile(inst.ID), pid); err != nil {
		_ = signalGroup(pid, sigKill)
		return 0, fmt.Errorf("failed to write pid file: %w", err)
	}
	return pid, nil
}

func (s *Supervisor) probe(inst *domain.Instance, pid int) error {
	s.mu.Lock()
	done := s.exited[pid]
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.ProbeDelay)
	defer timer.Stop()

	exited := false
	if done != nil {
		select {
		case <-done:
			exited = true
		case <-timer.C:
		}
	} else {
		<-timer.C
	}

	if exited || !alive(pid) {
		_ = os.Remove(s.PIDFile(inst.ID))
		return fmt.Errorf("%w: %s on port %d (is the port already in use? see %s)",
			ErrExitedEarly, inst.Name, inst.Port, s.LogFile(inst.ID))
	}
	return nil
}

// Stop terminates the instance: SIGTERM, then SIGKILL once StopTimeout
// elapses. Stopping a stopped instance is not an error.
func (s *Supervisor) Stop(ctx context.Context, inst *domain.Instance) error {
	if _, err := os.Stat(s.pm2Marker(inst.ID)); err == nil {
		return s.stopPM2(ctx, inst)
	}

	pid, err := readPID(s.PIDFile(inst.ID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		// Unreadable pid file: nothing we can signal.
		s.log.Warn("removing unreadable pid file", logger.String("id", inst.ID), logger.Error(err))
		return removeIfExists(s.PIDFile(inst.ID))
	}
	if !alive(pid) {
		return removeIfExists(s.PIDFile(inst.ID))
	}

	if err := signalGroup(pid, sigTerm); err != nil && alive(pid) {
		return fmt.Errorf("failed to signal %s (pid %d): %w", inst.Name, pid, err)
	}
	if s.waitExit(ctx, pid, s.opts.StopTimeout) {
		s.log.Info("instance stopped", logger.String("id", inst.ID), logger.Int("pid", pid))
		stopped(inst, "term")
		return removeIfExists(s.PIDFile(inst.ID))
	}

	s.log.Warn("instance ignored SIGTERM, killing",
		logger.String("id", inst.ID),
		logger.Int("pid", pid),
		logger.Duration("grace", s.opts.StopTimeout))
	if err := signalGroup(pid, sigKill); err != nil && alive(pid) {
		return fmt.Errorf("failed to kill %s (pid %d): %w", inst.Name, pid, err)
	}
	if !s.waitExit(ctx, pid, 2*time.Second) {
		return fmt.Errorf("%s (pid %d) survived SIGKILL", inst.Name, pid)
	}
	stopped(inst, "kill")
	return removeIfExists(s.PIDFile(inst.ID))
}

func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-ticker.C:
		}
	}
}

// Status reports liveness. A PID file naming a dead process is removed.
func (s *Supervisor) Status(ctx context.Context, inst *domain.Instance) Status {
	if name, err := os.ReadFile(s.pm2Marker(inst.ID)); err == nil {
		return s.pm2Status(ctx, strings.TrimSpace(string(name)))
	}

	pid, err := readPID(s.PIDFile(inst.ID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(s.PIDFile(inst.ID))
		}
		return Status{State: StateStopped}
	}
	if !alive(pid) {
		s.log.Debug("removing stale pid file", logger.String("id", inst.ID), logger.Int("pid", pid))
		_ = os.Remove(s.PIDFile(inst.ID))
		return Status{State: StateStopped}
	}
	return Status{State: StateRunning, PID: pid}
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, raw)
	}
	return pid, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
