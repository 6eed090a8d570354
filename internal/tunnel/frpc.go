// Package tunnel renders frpc client configuration from the persisted
// servers and tunnels.
package tunnel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"gopkg.in/yaml.v3"
)

var ErrNoServer = errors.New("no frp server configured")

type frpcConfig struct {
	ServerAddr string     `yaml:"serverAddr"`
	ServerPort int        `yaml:"serverPort"`
	Auth       *auth      `yaml:"auth,omitempty"`
	WebServer  webServer  `yaml:"webServer"`
	Proxies    []proxyDef `yaml:"proxies"`
}

type auth struct {
	Method string `yaml:"method"`
	Token  string `yaml:"token"`
}

type webServer struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

type proxyDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	LocalIP    string `yaml:"localIP"`
	LocalPort  int    `yaml:"localPort"`
	Subdomain  string `yaml:"subdomain,omitempty"`
	RemotePort int    `yaml:"remotePort,omitempty"`
}

// SelectServer picks the server named by the instance's "server_id"
// config key, or the first server when none is set.
func SelectServer(cfg *domain.Config, inst *domain.Instance) (*domain.FrpServer, error) {
	if id := inst.ConfigValue("server_id"); id != "" {
		_, srv := cfg.FindFrpServer(id)
		if srv == nil {
			return nil, fmt.Errorf("frp server %s referenced by %s does not exist", id, inst.Name)
		}
		return srv, nil
	}
	if len(cfg.FrpServers) == 0 {
		return nil, ErrNoServer
	}
	return &cfg.FrpServers[0], nil
}

// Render builds frpc.yaml for one server. Only enabled tunnels bound to
// that server are included. adminPort is frpc's local web server port.
func Render(srv domain.FrpServer, tunnels []domain.Tunnel, adminPort int) ([]byte, error) {
	c := frpcConfig{
		ServerAddr: srv.ServerAddr,
		ServerPort: srv.ServerPort,
		WebServer:  webServer{Addr: "127.0.0.1", Port: adminPort},
		Proxies:    []proxyDef{},
	}
	if srv.Token != "" {
		c.Auth = &auth{Method: "token", Token: srv.Token}
	}

	for _, t := range tunnels {
		if !t.Enabled || t.ServerID != srv.ID {
			continue
		}
		p := proxyDef{
			Name:      t.Name,
			Type:      string(t.Type),
			LocalIP:   "127.0.0.1",
			LocalPort: t.LocalPort,
		}
		switch t.Type {
		case domain.TunnelHTTP:
			p.Subdomain = t.Subdomain
		case domain.TunnelTCP:
			p.RemotePort = t.RemotePort
		}
		c.Proxies = append(c.Proxies, p)
	}

	out, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frpc config: %w", err)
	}
	return out, nil
}

// WriteConfig renders the config for inst and writes it to path with
// owner-only permissions, since it carries the auth token.
func WriteConfig(path string, cfg *domain.Config, inst *domain.Instance) error {
	srv, err := SelectServer(cfg, inst)
	if err != nil {
		return err
	}
	data, err := Render(*srv, cfg.Tunnels, inst.Port)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write frpc config: %w", err)
	}
	return nil
}

// ConfigSource supplies the persisted config at render time.
type ConfigSource interface {
	Load() (*domain.Config, error)
}

// Writer renders an instance's frpc config from a fresh config load.
type Writer struct {
	Source ConfigSource
}

func (w Writer) WriteTunnelConfig(path string, inst *domain.Instance) error {
	cfg, err := w.Source.Load()
	if err != nil {
		return err
	}
	return WriteConfig(path, cfg, inst)
}
