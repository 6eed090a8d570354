package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleConfig() *domain.Config {
	cfg := domain.NewConfig()
	cfg.FrpServers = []domain.FrpServer{
		{ID: "s1", Name: "edge", ServerAddr: "frp.example.net", ServerPort: 7000, Token: "tok"},
		{ID: "s2", Name: "backup", ServerAddr: "10.0.0.2", ServerPort: 7001},
	}
	cfg.Tunnels = []domain.Tunnel{
		{ID: "t1", Name: "web", ServerID: "s1", Type: domain.TunnelHTTP, LocalPort: 8000, Subdomain: "demo", Enabled: true},
		{ID: "t2", Name: "db", ServerID: "s1", Type: domain.TunnelTCP, LocalPort: 5432, RemotePort: 6000, Enabled: true},
		{ID: "t3", Name: "off", ServerID: "s1", Type: domain.TunnelTCP, LocalPort: 6379, RemotePort: 6001, Enabled: false},
		{ID: "t4", Name: "other", ServerID: "s2", Type: domain.TunnelTCP, LocalPort: 3306, RemotePort: 6002, Enabled: true},
	}
	return cfg
}

func TestRender(t *testing.T) {
	cfg := sampleConfig()
	out, err := Render(cfg.FrpServers[0], cfg.Tunnels, 7400)
	require.NoError(t, err)

	var got frpcConfig
	require.NoError(t, yaml.Unmarshal(out, &got))

	assert.Equal(t, "frp.example.net", got.ServerAddr)
	assert.Equal(t, 7000, got.ServerPort)
	require.NotNil(t, got.Auth)
	assert.Equal(t, "tok", got.Auth.Token)
	assert.Equal(t, 7400, got.WebServer.Port)

	require.Len(t, got.Proxies, 2, "disabled and foreign tunnels are skipped")
	assert.Equal(t, proxyDef{Name: "web", Type: "http", LocalIP: "127.0.0.1", LocalPort: 8000, Subdomain: "demo"}, got.Proxies[0])
	assert.Equal(t, proxyDef{Name: "db", Type: "tcp", LocalIP: "127.0.0.1", LocalPort: 5432, RemotePort: 6000}, got.Proxies[1])
}

func TestRenderWithoutToken(t *testing.T) {
	cfg := sampleConfig()
	out, err := Render(cfg.FrpServers[1], cfg.Tunnels, 7400)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "auth")
}

func TestSelectServer(t *testing.T) {
	cfg := sampleConfig()

	srv, err := SelectServer(cfg, &domain.Instance{Name: "frpc"})
	require.NoError(t, err)
	assert.Equal(t, "s1", srv.ID)

	srv, err = SelectServer(cfg, &domain.Instance{Name: "frpc", Config: []byte(`{"server_id":"s2"}`)})
	require.NoError(t, err)
	assert.Equal(t, "s2", srv.ID)

	_, err = SelectServer(cfg, &domain.Instance{Name: "frpc", Config: []byte(`{"server_id":"nope"}`)})
	assert.Error(t, err)

	_, err = SelectServer(domain.NewConfig(), &domain.Instance{})
	assert.True(t, errors.Is(err, ErrNoServer))
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "frpc.yaml")
	require.NoError(t, WriteConfig(path, sampleConfig(), &domain.Instance{Name: "frpc", Port: 7401}))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	raw, _ := os.ReadFile(path)
	assert.Contains(t, string(raw), "serverAddr: frp.example.net")
	assert.Contains(t, string(raw), "port: 7401")
}

type staticSource struct{ cfg *domain.Config }

func (s staticSource) Load() (*domain.Config, error) { return s.cfg, nil }

func TestWriterLoadsFreshConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frpc.yaml")
	w := Writer{Source: staticSource{cfg: sampleConfig()}}
	require.NoError(t, w.WriteTunnelConfig(path, &domain.Instance{Name: "frpc", Port: 7400}))
	assert.FileExists(t, path)
}
