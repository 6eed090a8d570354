package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "config.json"), filepath.Join(dir, "data"), logger.NewNop())
	require.NoError(t, s.RecordBinary("redis", domain.BinaryInfo{Version: "7.2.4", Path: "/bin/redis"}))
	return s
}

func redisInstance(name string, port int) NewInstance {
	return NewInstance{Name: name, Port: port, ServiceType: domain.ServiceRedis, Version: "7.2.4"}
}

func TestCreateInstanceDuplicatePort(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateInstance(redisInstance("a", 9000))
	require.NoError(t, err)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_, err = s.CreateInstance(redisInstance("b", 9000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortConflict), "got %v", err)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed create must not touch the file")

	list, err := s.ListInstances()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateInstanceCreatesDataDir(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.CreateInstance(redisInstance("cache", 6380))
	require.NoError(t, err)

	fi, err := os.Stat(s.InstanceDataDir(inst.ID))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	_, err = s.DeleteInstance(inst.ID, true)
	require.NoError(t, err)
	_, err = os.Stat(s.InstanceDataDir(inst.ID))
	assert.NoError(t, err, "keepData should retain the directory")
}

func TestDeleteInstanceRemovesDataDir(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.CreateInstance(redisInstance("cache", 6380))
	require.NoError(t, err)

	_, err = s.DeleteInstance(inst.ID, false)
	require.NoError(t, err)
	_, err = os.Stat(s.InstanceDataDir(inst.ID))
	assert.True(t, os.IsNotExist(err))

	_, err = s.DeleteInstance(inst.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateInstanceRequiresInstalledVersion(t *testing.T) {
	s := newTestStore(t)

	in := redisInstance("cache", 6380)
	in.Version = "6.0.0"
	_, err := s.CreateInstance(in)
	assert.ErrorIs(t, err, ErrVersionNotInstalled)

	entries, _ := os.ReadDir(filepath.Join(filepath.Dir(s.Path()), "data"))
	assert.Empty(t, entries, "no data directory for rejected instance")
}

func TestCreateInstanceValidation(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		in   NewInstance
		want error
	}{
		{name: "port zero", in: redisInstance("x", 0), want: ErrInvalid},
		{name: "port too high", in: redisInstance("x", 70000), want: ErrInvalid},
		{name: "empty name", in: redisInstance("  ", 6000), want: ErrInvalid},
		{name: "unknown stack", in: NewInstance{Name: "x", Port: 6001, ServiceType: domain.ServiceRedis, Version: "7.2.4", StackID: "nope"}, want: ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateInstance(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDomainSubdomainUnique(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateDomain(NewDomain{Subdomain: "api", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 7700}})
	require.NoError(t, err)

	_, err = s.CreateDomain(NewDomain{Subdomain: "API", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 7701}})
	assert.ErrorIs(t, err, ErrSubdomainConflict)

	domains, err := s.ListDomains()
	require.NoError(t, err)
	assert.Len(t, domains, 1)
}

func TestInstanceSlugConflictsWithDomain(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateDomain(NewDomain{Subdomain: "cache", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 7700}})
	require.NoError(t, err)

	in := redisInstance("cache", 6380)
	in.Domain = "cache"
	_, err = s.CreateInstance(in)
	assert.ErrorIs(t, err, ErrSubdomainConflict)
}

func TestDomainTargetValidation(t *testing.T) {
	s := newTestStore(t)
	file := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	tests := []struct {
		name   string
		target domain.DomainTarget
		want   error
	}{
		{name: "missing instance", target: domain.DomainTarget{Type: domain.TargetInstance, InstanceID: "ghost"}, want: ErrInvalidReference},
		{name: "static path is a file", target: domain.DomainTarget{Type: domain.TargetStatic, Path: file}, want: ErrInvalidReference},
		{name: "static path missing", target: domain.DomainTarget{Type: domain.TargetStatic, Path: "/does/not/exist"}, want: ErrInvalidReference},
		{name: "port target without port", target: domain.DomainTarget{Type: domain.TargetPort}, want: ErrInvalid},
		{name: "unknown type", target: domain.DomainTarget{Type: "ftp"}, want: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateDomain(NewDomain{Subdomain: "site", Target: tt.target})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	d, err := s.CreateDomain(NewDomain{Subdomain: "site", Target: domain.DomainTarget{Type: domain.TargetStatic, Path: filepath.Dir(file), Browse: true}})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceManual, d.Source)
}

func TestUpdateDomainSSL(t *testing.T) {
	s := newTestStore(t)

	d, err := s.CreateDomain(NewDomain{Subdomain: "api", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 7700}})
	require.NoError(t, err)

	updated, err := s.SetDomainSSL(d.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.SSL)

	got, err := s.GetDomain(d.ID)
	require.NoError(t, err)
	assert.True(t, got.SSL)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.CreateInstance(NewInstance{
		Name: "db", Port: 6390, ServiceType: domain.ServiceRedis, Version: "7.2.4",
		Config: []byte(`{"maxmemory":"256mb"}`), Domain: "db",
	})
	require.NoError(t, err)
	_, err = s.CreateDomain(NewDomain{Subdomain: "dbadmin", SSL: true, Target: domain.DomainTarget{Type: domain.TargetInstance, InstanceID: inst.ID}})
	require.NoError(t, err)

	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	cfg, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Save(cfg))

	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateInstance(redisInstance("a", 9000))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover %s", e.Name())
	}
}

func TestLoadMigratesMasterKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	legacy := `{"tld":"test","proxy_port":8080,"dns_port":5353,"proxy_installed":false,
"instances":[{"id":"6f1c1b8e-5d4e-4a53-9d1b-0f3c4c1b2a10","name":"search","port":7700,
"service_type":"meilisearch","version":"1.6.0","master_key":"s3cret","domain_enabled":false,
"created_at":"2024-01-01T00:00:00Z"}]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := New(path, filepath.Join(dir, "data"), logger.NewNop())
	cfg, err := s.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Instances, 1)
	assert.Equal(t, "s3cret", cfg.Instances[0].AdminKey)
	assert.Empty(t, cfg.Instances[0].MasterKey)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "master_key", "migration is saved immediately")
	assert.Contains(t, string(raw), `"admin_key": "s3cret"`)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "none.json"), t.TempDir(), logger.NewNop())
	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTLD, cfg.TLD)
	assert.Empty(t, cfg.Instances)
}

func TestDeleteFrpServerInUse(t *testing.T) {
	s := newTestStore(t)

	srv, err := s.CreateFrpServer(NewFrpServer{Name: "edge", ServerAddr: "frp.example.net", ServerPort: 7000})
	require.NoError(t, err)
	tun, err := s.CreateTunnel(NewTunnel{Name: "web", ServerID: srv.ID, Type: domain.TunnelHTTP, LocalPort: 8000, Subdomain: "demo"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteFrpServer(srv.ID), ErrInUse)

	require.NoError(t, s.DeleteTunnel(tun.ID))
	assert.NoError(t, s.DeleteFrpServer(srv.ID))
}

func TestCreateTunnelUnknownServer(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTunnel(NewTunnel{Name: "db", ServerID: "nope", Type: domain.TunnelTCP, LocalPort: 5432, RemotePort: 6000})
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestDeleteStackDetachesInstances(t *testing.T) {
	s := newTestStore(t)

	st, err := s.CreateStack("shop")
	require.NoError(t, err)
	in := redisInstance("cache", 6380)
	in.StackID = st.ID
	inst, err := s.CreateInstance(in)
	require.NoError(t, err)

	require.NoError(t, s.DeleteStack(st.ID))

	got, err := s.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Empty(t, got.StackID)
}

func TestDeleteParkedDirectoryRemovesGeneratedDomains(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateParkedDirectory(t.TempDir())
	require.NoError(t, err)
	_, err = s.CreateDomain(NewDomain{Subdomain: "blog", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 8001}, Source: domain.SourceParked, ParkedDirID: p.ID})
	require.NoError(t, err)
	_, err = s.CreateDomain(NewDomain{Subdomain: "manual", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 8002}})
	require.NoError(t, err)

	removed, err := s.DeleteParkedDirectory(p.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "blog", removed[0].Subdomain)

	domains, err := s.ListDomains()
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "manual", domains[0].Subdomain)
}

func TestDeleteDomainsForInstance(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.CreateInstance(redisInstance("cache", 6380))
	require.NoError(t, err)
	for _, sub := range []string{"one", "two"} {
		_, err := s.CreateDomain(NewDomain{Subdomain: sub, Target: domain.DomainTarget{Type: domain.TargetInstance, InstanceID: inst.ID}})
		require.NoError(t, err)
	}
	_, err = s.CreateDomain(NewDomain{Subdomain: "other", Target: domain.DomainTarget{Type: domain.TargetPort, Port: 9999}})
	require.NoError(t, err)

	removed, err := s.DeleteDomainsForInstance(inst.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	domains, err := s.ListDomains()
	require.NoError(t, err)
	assert.Len(t, domains, 1)
}

func TestUpdateSettings(t *testing.T) {
	s := newTestStore(t)

	tld := ".Local."
	port := 8443
	got, err := s.UpdateSettings(SettingsPatch{TLD: &tld, ProxyPort: &port})
	require.NoError(t, err)
	assert.Equal(t, "local", got.TLD)
	assert.Equal(t, 8443, got.ProxyPort)

	bad := 0
	_, err = s.UpdateSettings(SettingsPatch{DNSPort: &bad})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRemoveBinary(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.IsVersionInstalled("redis", "7.2.4")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RemoveBinary("redis", "7.2.4"))
	ok, err = s.IsVersionInstalled("redis", "7.2.4")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.RemoveBinary("redis", "7.2.4"), ErrNotFound)
}

func TestParkedDirectoryGetUpdate(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateParkedDirectory(t.TempDir())
	require.NoError(t, err)
	b, err := s.CreateParkedDirectory(t.TempDir())
	require.NoError(t, err)

	got, err := s.GetParkedDirectory(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Path, got.Path)

	_, err = s.GetParkedDirectory("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	moved := t.TempDir()
	updated, err := s.UpdateParkedDirectory(a.ID, moved)
	require.NoError(t, err)
	assert.Equal(t, moved, updated.Path)
	assert.Equal(t, a.ID, updated.ID)

	// same path again is a no-op, not a duplicate
	_, err = s.UpdateParkedDirectory(a.ID, moved)
	require.NoError(t, err)

	_, err = s.UpdateParkedDirectory(a.ID, b.Path)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.UpdateParkedDirectory(a.ID, filepath.Join(moved, "missing"))
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = s.UpdateParkedDirectory("nope", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = s.GetParkedDirectory(a.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, got.Path)
}

func TestGetStack(t *testing.T) {
	s := newTestStore(t)

	st, err := s.CreateStack("shop")
	require.NoError(t, err)

	got, err := s.GetStack(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Name)

	_, err = s.GetStack("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFrpServer(t *testing.T) {
	s := newTestStore(t)

	srv, err := s.CreateFrpServer(NewFrpServer{Name: "edge", ServerAddr: "frp.example.net", ServerPort: 7000})
	require.NoError(t, err)

	addr, port, token := " frp2.example.net ", 7100, "s3cret"
	updated, err := s.UpdateFrpServer(srv.ID, FrpServerPatch{ServerAddr: &addr, ServerPort: &port, Token: &token})
	require.NoError(t, err)
	assert.Equal(t, "edge", updated.Name)
	assert.Equal(t, "frp2.example.net", updated.ServerAddr)
	assert.Equal(t, 7100, updated.ServerPort)

	got, err := s.GetFrpServer(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Token)

	bad := 0
	_, err = s.UpdateFrpServer(srv.ID, FrpServerPatch{ServerPort: &bad})
	assert.ErrorIs(t, err, ErrInvalid)

	empty := "  "
	_, err = s.UpdateFrpServer(srv.ID, FrpServerPatch{Name: &empty})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.UpdateFrpServer("nope", FrpServerPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetFrpServer("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = s.GetFrpServer(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 7100, got.ServerPort, "rejected patches must not persist")
}

func TestUpdateTunnel(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateFrpServer(NewFrpServer{Name: "a", ServerAddr: "a.example.net", ServerPort: 7000})
	require.NoError(t, err)
	b, err := s.CreateFrpServer(NewFrpServer{Name: "b", ServerAddr: "b.example.net", ServerPort: 7000})
	require.NoError(t, err)
	tun, err := s.CreateTunnel(NewTunnel{Name: "web", ServerID: a.ID, Type: domain.TunnelHTTP, LocalPort: 8000, Subdomain: "demo"})
	require.NoError(t, err)

	sub, off := " Shop ", false
	updated, err := s.UpdateTunnel(tun.ID, TunnelPatch{ServerID: &b.ID, Subdomain: &sub, Enabled: &off})
	require.NoError(t, err)
	assert.Equal(t, b.ID, updated.ServerID)
	assert.Equal(t, "shop", updated.Subdomain)
	assert.False(t, updated.Enabled)

	got, err := s.GetTunnel(tun.ID)
	require.NoError(t, err)
	assert.Equal(t, *updated, *got)

	missing := "nope"
	_, err = s.UpdateTunnel(tun.ID, TunnelPatch{ServerID: &missing})
	assert.ErrorIs(t, err, ErrInvalidReference)

	// tcp requires a remote port
	tcp := domain.TunnelTCP
	_, err = s.UpdateTunnel(tun.ID, TunnelPatch{Type: &tcp})
	assert.ErrorIs(t, err, ErrInvalid)

	remote := 6000
	updated, err = s.UpdateTunnel(tun.ID, TunnelPatch{Type: &tcp, RemotePort: &remote})
	require.NoError(t, err)
	assert.Equal(t, domain.TunnelTCP, updated.Type)

	_, err = s.UpdateTunnel("nope", TunnelPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTunnel("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// the server being switched away from is no longer referenced
	assert.NoError(t, s.DeleteFrpServer(a.ID))
	assert.ErrorIs(t, s.DeleteFrpServer(b.ID), ErrInUse)
}
