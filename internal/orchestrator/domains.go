package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/store"
)

func (o *Orchestrator) ListDomains() ([]domain.Domain, error) {
	return o.store.ListDomains()
}

func (o *Orchestrator) CreateDomain(ctx context.Context, in store.NewDomain) (*domain.Domain, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	d, err := o.store.CreateDomain(in)
	if err != nil {
		return nil, err
	}
	o.syncDomain(ctx, *d)
	return d, nil
}

func (o *Orchestrator) UpdateDomain(ctx context.Context, id string, p store.DomainPatch) (*domain.Domain, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	before, after, err := o.store.UpdateDomain(id, p)
	if err != nil {
		return nil, err
	}
	if before.Subdomain != after.Subdomain {
		o.unregister(ctx, before.Subdomain)
	}
	o.syncDomain(ctx, *after)
	return after, nil
}

func (o *Orchestrator) SetDomainSSL(ctx context.Context, id string, enabled bool) (*domain.Domain, error) {
	return o.UpdateDomain(ctx, id, store.DomainPatch{SSL: &enabled})
}

func (o *Orchestrator) DeleteDomain(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	d, err := o.store.DeleteDomain(id)
	if err != nil {
		return err
	}
	o.unregister(ctx, d.Subdomain)
	return nil
}

// syncDomain registers the domain's route, or removes it when the target
// instance is not running.
func (o *Orchestrator) syncDomain(ctx context.Context, d domain.Domain) {
	cfg, err := o.store.Load()
	if err != nil {
		o.log.Warn("route sync skipped", logger.String("subdomain", d.Subdomain), logger.Error(err))
		return
	}
	r, ok := routeFor(cfg, d)
	if !ok {
		o.unregister(ctx, d.Subdomain)
		return
	}
	if r.InstanceID != "" {
		_, inst := cfg.FindInstance(r.InstanceID)
		if !o.sup.Status(ctx, inst).Running() {
			o.unregister(ctx, d.Subdomain)
			return
		}
	}
	o.register(ctx, r)
}

// ─────────────────────────────
// Parked directories
// ─────────────────────────────

// Discovery is a site found by the park scanner or project analyzer.
type Discovery struct {
	Subdomain string
	// Port is set when the site needs a backend runtime; otherwise Path is
	// served statically.
	Port                   int
	Path                   string
	RequiresBackendRuntime bool
}

func (o *Orchestrator) CreateParkedDirectory(path string) (*domain.ParkedDirectory, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.CreateParkedDirectory(path)
}

func (o *Orchestrator) ListParkedDirectories() ([]domain.ParkedDirectory, error) {
	return o.store.ListParkedDirectories()
}

// DeleteParkedDirectory removes the directory and unregisters every domain
// generated from it.
func (o *Orchestrator) DeleteParkedDirectory(ctx context.Context, id string) ([]domain.Domain, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed, err := o.store.DeleteParkedDirectory(id)
	if err != nil {
		return nil, err
	}
	for _, d := range removed {
		o.unregister(ctx, d.Subdomain)
	}
	return removed, nil
}

// ImportDiscovered turns discoveries into parked domains. Subdomains the
// directory already owns are skipped; a conflict with any other domain
// fails that discovery only.
func (o *Orchestrator) ImportDiscovered(ctx context.Context, parkedID string, found []Discovery) ([]domain.Domain, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	cfg, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	_, parked := cfg.FindParkedDirectory(parkedID)
	if parked == nil {
		return nil, fmt.Errorf("%w: parked directory %s", store.ErrNotFound, parkedID)
	}

	owned := map[string]bool{}
	for _, d := range cfg.Domains {
		if d.ParkedDirID == parkedID {
			owned[d.Subdomain] = true
		}
	}

	var created []domain.Domain
	var errs []error
	for _, f := range found {
		sub := strings.ToLower(f.Subdomain)
		if owned[sub] {
			continue
		}

		target := domain.DomainTarget{Type: domain.TargetStatic, Path: f.Path}
		if f.RequiresBackendRuntime {
			target = domain.DomainTarget{Type: domain.TargetPort, Port: f.Port}
		} else if target.Path != "" && !filepath.IsAbs(target.Path) {
			target.Path = filepath.Join(parked.Path, target.Path)
		}

		d, err := o.store.CreateDomain(store.NewDomain{
			Subdomain:   sub,
			Target:      target,
			Source:      domain.SourceParked,
			ParkedDirID: parkedID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub, err))
			continue
		}
		owned[sub] = true
		created = append(created, *d)
		o.syncDomain(ctx, *d)
	}

	o.log.Info("imported discovered sites",
		logger.String("parked_dir", parked.Path),
		logger.Int("created", len(created)),
		logger.Int("failed", len(errs)))
	return created, errors.Join(errs...)
}

// ─────────────────────────────
// Settings
// ─────────────────────────────

func (o *Orchestrator) Settings() (domain.Settings, error) {
	return o.store.GetSettings()
}

// UpdateSettings persists the change; a new TLD rebuilds every route.
func (o *Orchestrator) UpdateSettings(ctx context.Context, p store.SettingsPatch) (domain.Settings, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev, err := o.store.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	next, err := o.store.UpdateSettings(p)
	if err != nil {
		return domain.Settings{}, err
	}
	if next.TLD != prev.TLD {
		if err := o.rebuildRoutes(ctx); err != nil {
			o.log.Warn("route rebuild after tld change failed", logger.Error(err))
		}
	}
	return next, nil
}
