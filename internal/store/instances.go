package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/google/uuid"
)

// NewInstance carries the caller-supplied fields of CreateInstance.
type NewInstance struct {
	Name        string
	Port        int
	ServiceType domain.ServiceType
	Version     string
	Config      json.RawMessage
	AdminKey    string
	Domain      string
	StackID     string
}

// CreateInstance validates and persists a new instance, then creates its
// data directory. Nothing is written when validation fails.
func (s *Store) CreateInstance(in NewInstance) (*domain.Instance, error) {
	var created domain.Instance

	err := s.update(func(cfg *domain.Config) error {
		inst := domain.Instance{
			ID:            uuid.NewString(),
			Name:          strings.TrimSpace(in.Name),
			Port:          in.Port,
			ServiceType:   in.ServiceType,
			Version:       in.Version,
			Config:        in.Config,
			AdminKey:      in.AdminKey,
			Domain:        strings.ToLower(strings.TrimSpace(in.Domain)),
			DomainEnabled: in.Domain != "",
			StackID:       in.StackID,
			CreatedAt:     s.now(),
		}
		if err := s.check(inst); err != nil {
			return err
		}
		if err := checkPortFree(cfg, inst.Port, ""); err != nil {
			return err
		}
		if !versionRecorded(cfg, string(inst.ServiceType), inst.Version) {
			return fmt.Errorf("%w: %s %s", ErrVersionNotInstalled, inst.ServiceType, inst.Version)
		}
		if inst.StackID != "" {
			if _, st := cfg.FindStack(inst.StackID); st == nil {
				return fmt.Errorf("%w: stack %s does not exist", ErrInvalidReference, inst.StackID)
			}
		}
		if inst.Domain != "" {
			if err := checkSubdomainFree(cfg, inst.Domain, "", ""); err != nil {
				return err
			}
		}

		if err := os.MkdirAll(s.InstanceDataDir(inst.ID), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		cfg.Instances = append(cfg.Instances, inst)
		created = inst
		return nil
	})
	if err != nil {
		if created.ID != "" {
			_ = os.RemoveAll(s.InstanceDataDir(created.ID))
		}
		return nil, err
	}

	s.log.Info("instance created",
		logger.String("id", created.ID),
		logger.String("service", string(created.ServiceType)),
		logger.Int("port", created.Port),
	)
	return &created, nil
}

func (s *Store) GetInstance(id string) (*domain.Instance, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, inst := cfg.FindInstance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return inst, nil
}

func (s *Store) ListInstances() ([]domain.Instance, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Instances, nil
}

// InstancePatch updates the non-nil fields of an instance.
type InstancePatch struct {
	Name          *string
	Port          *int
	Version       *string
	Config        *json.RawMessage
	AdminKey      *string
	Domain        *string
	DomainEnabled *bool
	StackID       *string
}

func (s *Store) UpdateInstance(id string, p InstancePatch) (*domain.Instance, error) {
	var updated domain.Instance

	err := s.update(func(cfg *domain.Config) error {
		idx, cur := cfg.FindInstance(id)
		if cur == nil {
			return fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}

		next := *cur
		if p.Name != nil {
			next.Name = strings.TrimSpace(*p.Name)
		}
		if p.Port != nil {
			next.Port = *p.Port
		}
		if p.Version != nil {
			next.Version = *p.Version
		}
		if p.Config != nil {
			next.Config = *p.Config
		}
		if p.AdminKey != nil {
			next.AdminKey = *p.AdminKey
		}
		if p.Domain != nil {
			next.Domain = strings.ToLower(strings.TrimSpace(*p.Domain))
		}
		if p.DomainEnabled != nil {
			next.DomainEnabled = *p.DomainEnabled
		}
		if p.StackID != nil {
			next.StackID = *p.StackID
		}

		if err := s.check(next); err != nil {
			return err
		}
		if next.Port != cur.Port {
			if err := checkPortFree(cfg, next.Port, id); err != nil {
				return err
			}
		}
		if next.Version != cur.Version && !versionRecorded(cfg, string(next.ServiceType), next.Version) {
			return fmt.Errorf("%w: %s %s", ErrVersionNotInstalled, next.ServiceType, next.Version)
		}
		if next.StackID != "" && next.StackID != cur.StackID {
			if _, st := cfg.FindStack(next.StackID); st == nil {
				return fmt.Errorf("%w: stack %s does not exist", ErrInvalidReference, next.StackID)
			}
		}
		if next.Domain != "" && next.Domain != cur.Domain {
			if err := checkSubdomainFree(cfg, next.Domain, "", id); err != nil {
				return err
			}
		}

		cfg.Instances[idx] = next
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteInstance removes the instance record. The data directory is removed
// too unless keepData is set. Domains targeting the instance are left alone;
// see DeleteDomainsForInstance.
func (s *Store) DeleteInstance(id string, keepData bool) (*domain.Instance, error) {
	var removed domain.Instance

	err := s.update(func(cfg *domain.Config) error {
		idx, inst := cfg.FindInstance(id)
		if inst == nil {
			return fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}
		removed = *inst
		cfg.Instances = append(cfg.Instances[:idx], cfg.Instances[idx+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !keepData {
		if err := os.RemoveAll(s.InstanceDataDir(id)); err != nil {
			return &removed, fmt.Errorf("failed to remove data directory: %w", err)
		}
	}
	return &removed, nil
}

func checkPortFree(cfg *domain.Config, port int, exceptID string) error {
	for _, inst := range cfg.Instances {
		if inst.ID != exceptID && inst.Port == port {
			return fmt.Errorf("%w: port %d is already used by instance %q", ErrPortConflict, port, inst.Name)
		}
	}
	return nil
}

// checkSubdomainFree reports a conflict with any domain subdomain or any
// instance slug, ignoring the entities named by the except ids.
func checkSubdomainFree(cfg *domain.Config, label, exceptDomainID, exceptInstanceID string) error {
	for _, d := range cfg.Domains {
		if d.ID != exceptDomainID && strings.EqualFold(d.Subdomain, label) {
			return fmt.Errorf("%w: %q is already taken", ErrSubdomainConflict, label)
		}
	}
	for _, inst := range cfg.Instances {
		if inst.ID != exceptInstanceID && inst.Domain != "" && strings.EqualFold(inst.Domain, label) {
			return fmt.Errorf("%w: %q is already used by instance %q", ErrSubdomainConflict, label, inst.Name)
		}
	}
	return nil
}

func versionRecorded(cfg *domain.Config, service, version string) bool {
	_, ok := cfg.Binaries[service][version]
	return ok
}
