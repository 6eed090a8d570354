package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/google/uuid"
)

// ─────────────────────────────
// Settings
// ─────────────────────────────

func (s *Store) GetSettings() (domain.Settings, error) {
	cfg, err := s.Load()
	if err != nil {
		return domain.Settings{}, err
	}
	return cfg.Settings, nil
}

type SettingsPatch struct {
	TLD            *string
	ProxyPort      *int
	DNSPort        *int
	ProxyInstalled *bool
}

func (s *Store) UpdateSettings(p SettingsPatch) (domain.Settings, error) {
	var out domain.Settings
	err := s.update(func(cfg *domain.Config) error {
		next := cfg.Settings
		if p.TLD != nil {
			next.TLD = strings.Trim(strings.ToLower(strings.TrimSpace(*p.TLD)), ".")
			if next.TLD == "" {
				return fmt.Errorf("%w: tld must not be empty", ErrInvalid)
			}
		}
		if p.ProxyPort != nil {
			if *p.ProxyPort < 1 || *p.ProxyPort > 65535 {
				return fmt.Errorf("%w: proxy port %d", ErrInvalid, *p.ProxyPort)
			}
			next.ProxyPort = *p.ProxyPort
		}
		if p.DNSPort != nil {
			if *p.DNSPort < 1 || *p.DNSPort > 65535 {
				return fmt.Errorf("%w: dns port %d", ErrInvalid, *p.DNSPort)
			}
			next.DNSPort = *p.DNSPort
		}
		if p.ProxyInstalled != nil {
			next.ProxyInstalled = *p.ProxyInstalled
		}
		cfg.Settings = next
		out = next
		return nil
	})
	return out, err
}

// ─────────────────────────────
// Binaries
// ─────────────────────────────

func (s *Store) RecordBinary(service string, info domain.BinaryInfo) error {
	return s.update(func(cfg *domain.Config) error {
		if cfg.Binaries[service] == nil {
			cfg.Binaries[service] = map[string]domain.BinaryInfo{}
		}
		cfg.Binaries[service][info.Version] = info
		return nil
	})
}

func (s *Store) RemoveBinary(service, version string) error {
	return s.update(func(cfg *domain.Config) error {
		if !versionRecorded(cfg, service, version) {
			return fmt.Errorf("%w: binary %s %s", ErrNotFound, service, version)
		}
		delete(cfg.Binaries[service], version)
		if len(cfg.Binaries[service]) == 0 {
			delete(cfg.Binaries, service)
		}
		return nil
	})
}

func (s *Store) IsVersionInstalled(service, version string) (bool, error) {
	cfg, err := s.Load()
	if err != nil {
		return false, err
	}
	return versionRecorded(cfg, service, version), nil
}

// ─────────────────────────────
// Parked directories
// ─────────────────────────────

// parkablePath resolves path and requires an existing directory.
func parkablePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidReference, abs)
	}
	return abs, nil
}

func checkParkedUnique(cfg *domain.Config, abs, selfID string) error {
	for _, p := range cfg.ParkedDirectories {
		if p.Path == abs && p.ID != selfID {
			return fmt.Errorf("%w: %s is already parked", ErrInvalid, abs)
		}
	}
	return nil
}

func (s *Store) CreateParkedDirectory(path string) (*domain.ParkedDirectory, error) {
	abs, err := parkablePath(path)
	if err != nil {
		return nil, err
	}

	var created domain.ParkedDirectory
	err = s.update(func(cfg *domain.Config) error {
		if err := checkParkedUnique(cfg, abs, ""); err != nil {
			return err
		}
		created = domain.ParkedDirectory{ID: uuid.NewString(), Path: abs, CreatedAt: s.now()}
		cfg.ParkedDirectories = append(cfg.ParkedDirectories, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetParkedDirectory(id string) (*domain.ParkedDirectory, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, p := cfg.FindParkedDirectory(id)
	if p == nil {
		return nil, fmt.Errorf("%w: parked directory %s", ErrNotFound, id)
	}
	return p, nil
}

// UpdateParkedDirectory moves a parked directory to a new path. Domains
// already generated from it keep their targets until the next import.
func (s *Store) UpdateParkedDirectory(id, path string) (*domain.ParkedDirectory, error) {
	abs, err := parkablePath(path)
	if err != nil {
		return nil, err
	}

	var out domain.ParkedDirectory
	err = s.update(func(cfg *domain.Config) error {
		_, p := cfg.FindParkedDirectory(id)
		if p == nil {
			return fmt.Errorf("%w: parked directory %s", ErrNotFound, id)
		}
		if err := checkParkedUnique(cfg, abs, id); err != nil {
			return err
		}
		p.Path = abs
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListParkedDirectories() ([]domain.ParkedDirectory, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.ParkedDirectories, nil
}

// DeleteParkedDirectory removes the directory and every domain generated
// from it, returning the removed domains.
func (s *Store) DeleteParkedDirectory(id string) ([]domain.Domain, error) {
	var removed []domain.Domain
	err := s.update(func(cfg *domain.Config) error {
		idx, p := cfg.FindParkedDirectory(id)
		if p == nil {
			return fmt.Errorf("%w: parked directory %s", ErrNotFound, id)
		}
		cfg.ParkedDirectories = append(cfg.ParkedDirectories[:idx], cfg.ParkedDirectories[idx+1:]...)

		kept := cfg.Domains[:0]
		for _, d := range cfg.Domains {
			if d.ParkedDirID == id {
				removed = append(removed, d)
				continue
			}
			kept = append(kept, d)
		}
		cfg.Domains = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func parkedExists(cfg *domain.Config, id string) bool {
	_, p := cfg.FindParkedDirectory(id)
	return p != nil
}

// ─────────────────────────────
// Stacks
// ─────────────────────────────

func (s *Store) CreateStack(name string) (*domain.Stack, error) {
	var created domain.Stack
	err := s.update(func(cfg *domain.Config) error {
		st := domain.Stack{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: s.now()}
		if err := s.check(st); err != nil {
			return err
		}
		cfg.Stacks = append(cfg.Stacks, st)
		created = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetStack(id string) (*domain.Stack, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, st := cfg.FindStack(id)
	if st == nil {
		return nil, fmt.Errorf("%w: stack %s", ErrNotFound, id)
	}
	return st, nil
}

func (s *Store) ListStacks() ([]domain.Stack, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Stacks, nil
}

func (s *Store) RenameStack(id, name string) (*domain.Stack, error) {
	var out domain.Stack
	err := s.update(func(cfg *domain.Config) error {
		idx, st := cfg.FindStack(id)
		if st == nil {
			return fmt.Errorf("%w: stack %s", ErrNotFound, id)
		}
		next := *st
		next.Name = strings.TrimSpace(name)
		if err := s.check(next); err != nil {
			return err
		}
		cfg.Stacks[idx] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStack removes the stack and detaches its member instances.
func (s *Store) DeleteStack(id string) error {
	return s.update(func(cfg *domain.Config) error {
		idx, st := cfg.FindStack(id)
		if st == nil {
			return fmt.Errorf("%w: stack %s", ErrNotFound, id)
		}
		cfg.Stacks = append(cfg.Stacks[:idx], cfg.Stacks[idx+1:]...)
		for i := range cfg.Instances {
			if cfg.Instances[i].StackID == id {
				cfg.Instances[i].StackID = ""
			}
		}
		return nil
	})
}

// ─────────────────────────────
// FRP servers & tunnels
// ─────────────────────────────

type NewFrpServer struct {
	Name       string
	ServerAddr string
	ServerPort int
	Token      string
}

func (s *Store) CreateFrpServer(in NewFrpServer) (*domain.FrpServer, error) {
	var created domain.FrpServer
	err := s.update(func(cfg *domain.Config) error {
		srv := domain.FrpServer{
			ID:         uuid.NewString(),
			Name:       strings.TrimSpace(in.Name),
			ServerAddr: strings.TrimSpace(in.ServerAddr),
			ServerPort: in.ServerPort,
			Token:      in.Token,
			CreatedAt:  s.now(),
		}
		if err := s.check(srv); err != nil {
			return err
		}
		cfg.FrpServers = append(cfg.FrpServers, srv)
		created = srv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) ListFrpServers() ([]domain.FrpServer, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.FrpServers, nil
}

func (s *Store) GetFrpServer(id string) (*domain.FrpServer, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, srv := cfg.FindFrpServer(id)
	if srv == nil {
		return nil, fmt.Errorf("%w: frp server %s", ErrNotFound, id)
	}
	return srv, nil
}

type FrpServerPatch struct {
	Name       *string
	ServerAddr *string
	ServerPort *int
	Token      *string
}

func (s *Store) UpdateFrpServer(id string, p FrpServerPatch) (*domain.FrpServer, error) {
	var out domain.FrpServer
	err := s.update(func(cfg *domain.Config) error {
		idx, srv := cfg.FindFrpServer(id)
		if srv == nil {
			return fmt.Errorf("%w: frp server %s", ErrNotFound, id)
		}
		next := *srv
		if p.Name != nil {
			next.Name = strings.TrimSpace(*p.Name)
		}
		if p.ServerAddr != nil {
			next.ServerAddr = strings.TrimSpace(*p.ServerAddr)
		}
		if p.ServerPort != nil {
			next.ServerPort = *p.ServerPort
		}
		if p.Token != nil {
			next.Token = *p.Token
		}
		if err := s.check(next); err != nil {
			return err
		}
		cfg.FrpServers[idx] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFrpServer fails with ErrInUse while tunnels still reference the server.
func (s *Store) DeleteFrpServer(id string) error {
	return s.update(func(cfg *domain.Config) error {
		idx, srv := cfg.FindFrpServer(id)
		if srv == nil {
			return fmt.Errorf("%w: frp server %s", ErrNotFound, id)
		}
		n := 0
		for _, t := range cfg.Tunnels {
			if t.ServerID == id {
				n++
			}
		}
		if n > 0 {
			return fmt.Errorf("%w: frp server %q is referenced by %d tunnel(s)", ErrInUse, srv.Name, n)
		}
		cfg.FrpServers = append(cfg.FrpServers[:idx], cfg.FrpServers[idx+1:]...)
		return nil
	})
}

type NewTunnel struct {
	Name       string
	ServerID   string
	Type       domain.TunnelType
	LocalPort  int
	Subdomain  string
	RemotePort int
}

func (s *Store) CreateTunnel(in NewTunnel) (*domain.Tunnel, error) {
	var created domain.Tunnel
	err := s.update(func(cfg *domain.Config) error {
		t := domain.Tunnel{
			ID:         uuid.NewString(),
			Name:       strings.TrimSpace(in.Name),
			ServerID:   in.ServerID,
			Type:       in.Type,
			LocalPort:  in.LocalPort,
			Subdomain:  strings.ToLower(strings.TrimSpace(in.Subdomain)),
			RemotePort: in.RemotePort,
			Enabled:    true,
			CreatedAt:  s.now(),
		}
		if err := s.check(t); err != nil {
			return err
		}
		if _, srv := cfg.FindFrpServer(t.ServerID); srv == nil {
			return fmt.Errorf("%w: frp server %s does not exist", ErrInvalidReference, t.ServerID)
		}
		cfg.Tunnels = append(cfg.Tunnels, t)
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) ListTunnels() ([]domain.Tunnel, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Tunnels, nil
}

func (s *Store) GetTunnel(id string) (*domain.Tunnel, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, t := cfg.FindTunnel(id)
	if t == nil {
		return nil, fmt.Errorf("%w: tunnel %s", ErrNotFound, id)
	}
	return t, nil
}

type TunnelPatch struct {
	Name       *string
	ServerID   *string
	Type       *domain.TunnelType
	LocalPort  *int
	Subdomain  *string
	RemotePort *int
	Enabled    *bool
}

// UpdateTunnel applies p and re-validates the whole tunnel, including that
// its server still exists.
func (s *Store) UpdateTunnel(id string, p TunnelPatch) (*domain.Tunnel, error) {
	var out domain.Tunnel
	err := s.update(func(cfg *domain.Config) error {
		idx, cur := cfg.FindTunnel(id)
		if cur == nil {
			return fmt.Errorf("%w: tunnel %s", ErrNotFound, id)
		}
		next := *cur
		if p.Name != nil {
			next.Name = strings.TrimSpace(*p.Name)
		}
		if p.ServerID != nil {
			next.ServerID = *p.ServerID
		}
		if p.Type != nil {
			next.Type = *p.Type
		}
		if p.LocalPort != nil {
			next.LocalPort = *p.LocalPort
		}
		if p.Subdomain != nil {
			next.Subdomain = strings.ToLower(strings.TrimSpace(*p.Subdomain))
		}
		if p.RemotePort != nil {
			next.RemotePort = *p.RemotePort
		}
		if p.Enabled != nil {
			next.Enabled = *p.Enabled
		}
		if err := s.check(next); err != nil {
			return err
		}
		if _, srv := cfg.FindFrpServer(next.ServerID); srv == nil {
			return fmt.Errorf("%w: frp server %s does not exist", ErrInvalidReference, next.ServerID)
		}
		cfg.Tunnels[idx] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) SetTunnelEnabled(id string, enabled bool) error {
	return s.update(func(cfg *domain.Config) error {
		for i := range cfg.Tunnels {
			if cfg.Tunnels[i].ID == id {
				cfg.Tunnels[i].Enabled = enabled
				return nil
			}
		}
		return fmt.Errorf("%w: tunnel %s", ErrNotFound, id)
	})
}

func (s *Store) DeleteTunnel(id string) error {
	return s.update(func(cfg *domain.Config) error {
		for i := range cfg.Tunnels {
			if cfg.Tunnels[i].ID == id {
				cfg.Tunnels = append(cfg.Tunnels[:i], cfg.Tunnels[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: tunnel %s", ErrNotFound, id)
	})
}
