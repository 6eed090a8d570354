package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/health"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/MrSnakeDoc/devhost/internal/store"
	"github.com/MrSnakeDoc/devhost/internal/supervisor"
)

// InstanceStatus is an instance with its process state and reachability.
type InstanceStatus struct {
	Instance domain.Instance   `json:"instance"`
	Status   supervisor.Status `json:"status"`
	Healthy  bool              `json:"healthy"`
	URL      string            `json:"url,omitempty"`
}

// CreateInstance fills the family's default port when none is given and
// records a version that is on disk but not yet in the store.
func (o *Orchestrator) CreateInstance(ctx context.Context, in store.NewInstance) (*domain.Instance, error) {
	fam, err := services.Lookup(in.ServiceType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	if in.Port == 0 {
		in.Port = fam.DefaultPort()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.recordOnDisk(string(in.ServiceType), in.Version); err != nil {
		return nil, err
	}
	return o.store.CreateInstance(in)
}

func (o *Orchestrator) recordOnDisk(service, version string) error {
	ok, err := o.store.IsVersionInstalled(service, version)
	if err != nil || ok {
		return err
	}
	res, err := o.bins.Resolve(service, version)
	if err != nil {
		// CreateInstance reports the missing version.
		return nil
	}
	path := res.Path
	if path == "" {
		path = res.Dir
	}
	return o.store.RecordBinary(service, domain.BinaryInfo{
		Version:     version,
		Path:        path,
		InstalledAt: time.Now().UTC(),
		Virtual:     res.Virtual,
	})
}

func (o *Orchestrator) UpdateInstance(ctx context.Context, id string, p store.InstancePatch) (*domain.Instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if p.Version != nil {
		cur, err := o.store.GetInstance(id)
		if err != nil {
			return nil, err
		}
		if err := o.recordOnDisk(string(cur.ServiceType), *p.Version); err != nil {
			return nil, err
		}
	}
	updated, err := o.store.UpdateInstance(id, p)
	if err != nil {
		return nil, err
	}
	// Port or slug changes move routes.
	if err := o.rebuildRoutes(ctx); err != nil {
		o.log.Warn("route rebuild after update failed", logger.String("id", id), logger.Error(err))
	}
	return updated, nil
}

// StartInstance starts the process and registers its routes.
func (o *Orchestrator) StartInstance(ctx context.Context, id string) (*InstanceStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.start(ctx, id)
}

func (o *Orchestrator) start(ctx context.Context, id string) (*InstanceStatus, error) {
	cfg, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	_, inst := cfg.FindInstance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %s", store.ErrNotFound, id)
	}
	o.applyTLD(cfg.TLD)

	routes := instanceRoutes(cfg, inst)
	ssl := false
	for _, r := range routes {
		ssl = ssl || r.SSL
	}

	st, err := o.sup.Start(ctx, inst, supervisor.StartOptions{TLD: cfg.TLD, SSL: ssl})
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		o.register(ctx, r)
	}
	return &InstanceStatus{Instance: *inst, Status: *st, URL: instanceURL(cfg, inst)}, nil
}

// StopInstance stops the process and removes its routes. Stopping a
// stopped instance succeeds.
func (o *Orchestrator) StopInstance(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stop(ctx, id)
}

func (o *Orchestrator) stop(ctx context.Context, id string) error {
	cfg, err := o.store.Load()
	if err != nil {
		return err
	}
	_, inst := cfg.FindInstance(id)
	if inst == nil {
		return fmt.Errorf("%w: instance %s", store.ErrNotFound, id)
	}
	if err := o.sup.Stop(ctx, inst); err != nil {
		return err
	}
	for _, r := range instanceRoutes(cfg, inst) {
		o.unregister(ctx, r.Domain)
	}
	return nil
}

func (o *Orchestrator) RestartInstance(ctx context.Context, id string) (*InstanceStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.stop(ctx, id); err != nil {
		return nil, err
	}
	return o.start(ctx, id)
}

// DeleteInstance stops the process, removes every route and domain that
// targets it, then removes the record. Every step runs even when an
// earlier one failed; the failures are joined.
func (o *Orchestrator) DeleteInstance(ctx context.Context, id string, keepData bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cfg, err := o.store.Load()
	if err != nil {
		return err
	}
	_, inst := cfg.FindInstance(id)
	if inst == nil {
		return fmt.Errorf("%w: instance %s", store.ErrNotFound, id)
	}

	var errs []error
	if err := o.sup.Stop(ctx, inst); err != nil {
		o.log.Warn("stop before delete failed", logger.String("id", id), logger.Error(err))
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	// Routes go first so a failed cascade below cannot leave them behind.
	for _, r := range instanceRoutes(cfg, inst) {
		o.unregister(ctx, r.Domain)
	}

	removed, err := o.store.DeleteDomainsForInstance(id)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete domains: %w", err))
	}

	if _, err := o.store.DeleteInstance(id, keepData); err != nil {
		errs = append(errs, fmt.Errorf("delete instance: %w", err))
	}

	o.log.Info("instance deleted",
		logger.String("id", id),
		logger.Int("domains_removed", len(removed)),
		logger.Bool("kept_data", keepData))
	return errors.Join(errs...)
}

func (o *Orchestrator) InstanceStatus(ctx context.Context, id string) (*InstanceStatus, error) {
	cfg, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	_, inst := cfg.FindInstance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %s", store.ErrNotFound, id)
	}
	st := o.status(ctx, cfg, inst)
	return &st, nil
}

func (o *Orchestrator) ListInstances(ctx context.Context) ([]InstanceStatus, error) {
	cfg, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	out := make([]InstanceStatus, 0, len(cfg.Instances))
	for i := range cfg.Instances {
		out = append(out, o.status(ctx, cfg, &cfg.Instances[i]))
	}
	return out, nil
}

func (o *Orchestrator) status(ctx context.Context, cfg *domain.Config, inst *domain.Instance) InstanceStatus {
	st := InstanceStatus{
		Instance: *inst,
		Status:   o.sup.Status(ctx, inst),
		URL:      instanceURL(cfg, inst),
	}
	if st.Status.Running() {
		st.Healthy = o.check(ctx, inst) == nil
	}
	return st
}

func (o *Orchestrator) check(ctx context.Context, inst *domain.Instance) error {
	fam, err := services.Lookup(inst.ServiceType)
	if err != nil {
		return err
	}
	kind, path := fam.Health()
	return o.health.Check(ctx, kind, healthTarget(inst, path))
}

func healthTarget(inst *domain.Instance, path string) health.Target {
	return health.Target{Port: inst.Port, Path: path, Password: inst.AdminKey}
}

// WaitHealthy blocks until a running instance answers its health probe.
func (o *Orchestrator) WaitHealthy(ctx context.Context, id string, timeout time.Duration) error {
	inst, err := o.store.GetInstance(id)
	if err != nil {
		return err
	}
	fam, err := services.Lookup(inst.ServiceType)
	if err != nil {
		return err
	}
	kind, path := fam.Health()
	opts := health.DefaultWaitOptions()
	if timeout > 0 {
		opts.Timeout = timeout
	}
	return o.health.WaitReady(ctx, kind, healthTarget(inst, path), opts)
}

// StartStack starts every member of a stack, continuing past failures.
func (o *Orchestrator) StartStack(ctx context.Context, stackID string) error {
	return o.eachInStack(ctx, stackID, func(id string) error {
		_, err := o.start(ctx, id)
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			return nil
		}
		return err
	})
}

func (o *Orchestrator) StopStack(ctx context.Context, stackID string) error {
	return o.eachInStack(ctx, stackID, func(id string) error { return o.stop(ctx, id) })
}

func (o *Orchestrator) eachInStack(ctx context.Context, stackID string, fn func(id string) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cfg, err := o.store.Load()
	if err != nil {
		return err
	}
	if _, st := cfg.FindStack(stackID); st == nil {
		return fmt.Errorf("%w: stack %s", store.ErrNotFound, stackID)
	}
	var errs []error
	for _, inst := range cfg.Instances {
		if inst.StackID != stackID {
			continue
		}
		if err := fn(inst.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name, err))
		}
	}
	return errors.Join(errs...)
}

func instanceURL(cfg *domain.Config, inst *domain.Instance) string {
	if inst.DomainEnabled && inst.Domain != "" {
		return "http://" + inst.Domain + "." + cfg.TLD
	}
	return fmt.Sprintf("http://127.0.0.1:%d", inst.Port)
}
