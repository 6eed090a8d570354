//go:build unix

package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/execx"
)

type fakeResolver struct {
	res binaries.Resolved
	err error
}

func (f fakeResolver) Resolve(string, string) (binaries.Resolved, error) {
	return f.res, f.err
}

type fakeTunnels struct{ paths []string }

func (f *fakeTunnels) WriteTunnelConfig(path string, _ *domain.Instance) error {
	f.paths = append(f.paths, path)
	return os.WriteFile(path, []byte("serverAddr: example.net\n"), 0o600)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

type fixture struct {
	sup     *Supervisor
	root    string
	binDir  string
	tunnels *fakeTunnels
	runner  *execx.Fake
}

func newFixture(t *testing.T, res fakeResolver) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{root: root, binDir: filepath.Join(root, "bin"), tunnels: &fakeTunnels{}, runner: execx.NewFake()}
	require.NoError(t, os.MkdirAll(f.binDir, 0o755))
	f.sup = New(Options{
		PidsDir:     filepath.Join(root, "pids"),
		LogsDir:     filepath.Join(root, "logs"),
		DataDir:     func(id string) string { return filepath.Join(root, "data", id) },
		Binaries:    res,
		Tunnels:     f.tunnels,
		Runner:      f.runner,
		StopTimeout: 300 * time.Millisecond,
		ProbeDelay:  200 * time.Millisecond,
	})
	return f
}

func instance(t domain.ServiceType, port int) *domain.Instance {
	return &domain.Instance{ID: uuid.NewString(), Name: "svc", Port: port, ServiceType: t, Version: "1.0.0"}
}

func cleanupStop(t *testing.T, sup *Supervisor, inst *domain.Instance) {
	t.Cleanup(func() { _ = sup.Stop(context.Background(), inst) })
}

func TestStartStop(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "redis-server", "exec sleep 30")
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServiceRedis, 16379)
	cleanupStop(t, f.sup, inst)
	ctx := context.Background()

	st, err := f.sup.Start(ctx, inst, StartOptions{TLD: "test"})
	require.NoError(t, err)
	assert.True(t, st.Running())
	assert.Greater(t, st.PID, 0)

	pid, err := readPID(f.sup.PIDFile(inst.ID))
	require.NoError(t, err)
	assert.Equal(t, st.PID, pid)
	assert.True(t, f.sup.Status(ctx, inst).Running())

	_, err = f.sup.Start(ctx, inst, StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, f.sup.Stop(ctx, inst))
	assert.False(t, f.sup.Status(ctx, inst).Running())
	assert.NoFileExists(t, f.sup.PIDFile(inst.ID))
	assert.False(t, alive(pid))

	// already stopped
	assert.NoError(t, f.sup.Stop(ctx, inst))
}

func TestStopEscalatesToKill(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "redis-server", "trap '' TERM\nwhile :; do sleep 0.05; done")
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServiceRedis, 16380)
	cleanupStop(t, f.sup, inst)
	ctx := context.Background()

	st, err := f.sup.Start(ctx, inst, StartOptions{})
	require.NoError(t, err)

	begin := time.Now()
	require.NoError(t, f.sup.Stop(ctx, inst))
	assert.GreaterOrEqual(t, time.Since(begin), 300*time.Millisecond)
	assert.False(t, alive(st.PID))
	assert.NoFileExists(t, f.sup.PIDFile(inst.ID))
}

func TestStartExitsEarly(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "redis-server", "echo 'Address already in use' >&2\nexit 1")
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServiceRedis, 16381)

	_, err := f.sup.Start(context.Background(), inst, StartOptions{})
	require.ErrorIs(t, err, ErrExitedEarly)
	assert.Contains(t, err.Error(), "16381")
	assert.NoFileExists(t, f.sup.PIDFile(inst.ID))

	logged, err := os.ReadFile(f.sup.LogFile(inst.ID))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Address already in use")
}

func TestStartNotInstalled(t *testing.T) {
	f := newFixture(t, fakeResolver{err: errors.New("missing")})
	_, err := f.sup.Start(context.Background(), instance(domain.ServiceRedis, 16382), StartOptions{})
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestInitRunsOnce(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "postgres", "exec sleep 30")
	writeScript(t, root, "initdb", `echo ran >> "$2/init.count"`)
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServicePostgreSQL, 15432)
	cleanupStop(t, f.sup, inst)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.sup.Start(ctx, inst, StartOptions{})
		require.NoError(t, err)
		require.NoError(t, f.sup.Stop(ctx, inst))
	}

	dataDir := filepath.Join(f.root, "data", inst.ID)
	count, err := os.ReadFile(filepath.Join(dataDir, "init.count"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(count), "ran"))
	assert.FileExists(t, filepath.Join(dataDir, InitSentinel))
}

func TestFailedInitLeavesNoSentinel(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "postgres", "exec sleep 30")
	writeScript(t, root, "initdb", "exit 3")
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServicePostgreSQL, 15433)

	_, err := f.sup.Start(context.Background(), inst, StartOptions{})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.root, "data", inst.ID, InitSentinel))
	assert.NoFileExists(t, f.sup.PIDFile(inst.ID))
}

func TestStatusRemovesStalePIDFile(t *testing.T) {
	f := newFixture(t, fakeResolver{})
	inst := instance(domain.ServiceRedis, 16383)

	dead := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, dead.Run())
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "pids"), 0o755))
	require.NoError(t, writePID(f.sup.PIDFile(inst.ID), dead.ProcessState.Pid()))

	st := f.sup.Status(context.Background(), inst)
	assert.Equal(t, StateStopped, st.State)
	assert.NoFileExists(t, f.sup.PIDFile(inst.ID))
}

func TestTunnelConfigWritten(t *testing.T) {
	root := t.TempDir()
	bin := writeScript(t, root, "frpc", "exec sleep 30")
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Path: bin, Dir: root}})
	inst := instance(domain.ServiceFrpc, 17400)
	cleanupStop(t, f.sup, inst)

	_, err := f.sup.Start(context.Background(), inst, StartOptions{})
	require.NoError(t, err)
	require.Len(t, f.tunnels.paths, 1)
	assert.Equal(t, filepath.Join(f.root, "data", inst.ID, "frpc.yaml"), f.tunnels.paths[0])
	assert.FileExists(t, f.tunnels.paths[0])
}

func TestPM2Lifecycle(t *testing.T) {
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Virtual: true}})
	inst := instance(domain.ServiceNodeRED, 11880)
	name := "devhost-" + inst.ID

	f.runner.Paths["pm2"] = "/usr/local/bin/pm2"
	f.runner.On("pm2 jlist", `[PM2] banner
[{"name":"`+name+`","pid":4242,"pm2_env":{"status":"online"}}]`, nil)
	f.runner.On("pm2", "", nil)
	ctx := context.Background()

	st, err := f.sup.Start(ctx, inst, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4242, st.PID)
	assert.Equal(t, name, st.PM2)
	assert.True(t, f.runner.Called("pm2 start node-red --name "+name))
	assert.True(t, f.sup.Status(ctx, inst).Running())

	require.NoError(t, f.sup.Stop(ctx, inst))
	assert.True(t, f.runner.Called("pm2 delete "+name))
	assert.False(t, f.sup.Status(ctx, inst).Running())
}

func TestPM2Missing(t *testing.T) {
	f := newFixture(t, fakeResolver{res: binaries.Resolved{Virtual: true}})
	_, err := f.sup.Start(context.Background(), instance(domain.ServiceNodeRED, 11881), StartOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pm2")
}
