package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/google/uuid"
)

type NewDomain struct {
	Subdomain   string
	SSL         bool
	Target      domain.DomainTarget
	Source      domain.DomainSource
	ParkedDirID string
}

func (s *Store) CreateDomain(in NewDomain) (*domain.Domain, error) {
	var created domain.Domain

	err := s.update(func(cfg *domain.Config) error {
		src := in.Source
		if src == "" {
			src = domain.SourceManual
		}
		d := domain.Domain{
			ID:          uuid.NewString(),
			Subdomain:   strings.ToLower(strings.TrimSpace(in.Subdomain)),
			SSL:         in.SSL,
			Target:      in.Target,
			Source:      src,
			ParkedDirID: in.ParkedDirID,
			CreatedAt:   s.now(),
		}
		if err := s.checkDomain(cfg, d, ""); err != nil {
			return err
		}
		cfg.Domains = append(cfg.Domains, d)
		created = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetDomain(id string) (*domain.Domain, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	_, d := cfg.FindDomain(id)
	if d == nil {
		return nil, fmt.Errorf("%w: domain %s", ErrNotFound, id)
	}
	return d, nil
}

func (s *Store) ListDomains() ([]domain.Domain, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Domains, nil
}

type DomainPatch struct {
	Subdomain *string
	SSL       *bool
	Target    *domain.DomainTarget
}

// UpdateDomain returns the domain before and after the change so callers can
// unregister the old route when the subdomain moves.
func (s *Store) UpdateDomain(id string, p DomainPatch) (before, after *domain.Domain, err error) {
	var prev, next domain.Domain

	err = s.update(func(cfg *domain.Config) error {
		idx, cur := cfg.FindDomain(id)
		if cur == nil {
			return fmt.Errorf("%w: domain %s", ErrNotFound, id)
		}
		prev = *cur
		next = *cur
		if p.Subdomain != nil {
			next.Subdomain = strings.ToLower(strings.TrimSpace(*p.Subdomain))
		}
		if p.SSL != nil {
			next.SSL = *p.SSL
		}
		if p.Target != nil {
			next.Target = *p.Target
		}
		if err := s.checkDomain(cfg, next, id); err != nil {
			return err
		}
		cfg.Domains[idx] = next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &prev, &next, nil
}

func (s *Store) SetDomainSSL(id string, enabled bool) (*domain.Domain, error) {
	_, d, err := s.UpdateDomain(id, DomainPatch{SSL: &enabled})
	return d, err
}

func (s *Store) DeleteDomain(id string) (*domain.Domain, error) {
	var removed domain.Domain
	err := s.update(func(cfg *domain.Config) error {
		idx, d := cfg.FindDomain(id)
		if d == nil {
			return fmt.Errorf("%w: domain %s", ErrNotFound, id)
		}
		removed = *d
		cfg.Domains = append(cfg.Domains[:idx], cfg.Domains[idx+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// DeleteDomainsForInstance removes every domain targeting the instance and
// returns what was removed.
func (s *Store) DeleteDomainsForInstance(instanceID string) ([]domain.Domain, error) {
	return s.deleteDomainsWhere(func(d domain.Domain) bool {
		return d.Target.Type == domain.TargetInstance && d.Target.InstanceID == instanceID
	})
}

func (s *Store) deleteDomainsWhere(match func(domain.Domain) bool) ([]domain.Domain, error) {
	var removed []domain.Domain
	err := s.update(func(cfg *domain.Config) error {
		kept := cfg.Domains[:0]
		for _, d := range cfg.Domains {
			if match(d) {
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

func (s *Store) checkDomain(cfg *domain.Config, d domain.Domain, exceptID string) error {
	if err := s.check(d); err != nil {
		return err
	}
	if err := checkSubdomainFree(cfg, d.Subdomain, exceptID, ""); err != nil {
		return err
	}

	switch d.Target.Type {
	case domain.TargetInstance:
		if _, inst := cfg.FindInstance(d.Target.InstanceID); inst == nil {
			return fmt.Errorf("%w: instance %s does not exist", ErrInvalidReference, d.Target.InstanceID)
		}
	case domain.TargetStatic:
		fi, err := os.Stat(d.Target.Path)
		if err != nil {
			return fmt.Errorf("%w: static path %s: %v", ErrInvalidReference, d.Target.Path, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("%w: static path %s is not a directory", ErrInvalidReference, d.Target.Path)
		}
	}

	if d.ParkedDirID != "" && !parkedExists(cfg, d.ParkedDirID) {
		return fmt.Errorf("%w: parked directory %s does not exist", ErrInvalidReference, d.ParkedDirID)
	}
	return nil
}
