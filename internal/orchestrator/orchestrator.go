// Package orchestrator ties the store, binaries, supervisor and route
// registry together. It serializes every store mutation behind one mutex;
// the store itself does not lock across load and save.
package orchestrator

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/health"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/proxy"
	"github.com/MrSnakeDoc/devhost/internal/store"
	"github.com/MrSnakeDoc/devhost/internal/supervisor"
)

// TLDSetter is implemented by components that render hostnames.
type TLDSetter interface {
	SetTLD(tld string)
}

type Options struct {
	Store      *store.Store
	Binaries   *binaries.Manager
	Supervisor *supervisor.Supervisor
	Routes     *proxy.Registry
	Health     *health.Checker
	// Renderers are told about TLD changes (the caddy writer).
	Renderers []TLDSetter
	Log       logger.Logger
}

type Orchestrator struct {
	mu sync.Mutex

	store     *store.Store
	bins      *binaries.Manager
	sup       *supervisor.Supervisor
	routes    *proxy.Registry
	health    *health.Checker
	renderers []TLDSetter
	log       logger.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Health == nil {
		opts.Health = health.NewChecker(0, opts.Log)
	}
	return &Orchestrator{
		store:     opts.Store,
		bins:      opts.Binaries,
		sup:       opts.Supervisor,
		routes:    opts.Routes,
		health:    opts.Health,
		renderers: opts.Renderers,
		log:       opts.Log,
	}
}

func (o *Orchestrator) Store() *store.Store         { return o.store }
func (o *Orchestrator) Routes() *proxy.Registry     { return o.routes }
func (o *Orchestrator) Binaries() *binaries.Manager { return o.bins }

// RebuildRoutes derives the route working set from the store. Instance
// targets only route while the instance runs; dangling targets are skipped.
func (o *Orchestrator) RebuildRoutes(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rebuildRoutes(ctx)
}

func (o *Orchestrator) rebuildRoutes(ctx context.Context) error {
	cfg, err := o.store.Load()
	if err != nil {
		return err
	}
	o.applyTLD(cfg.TLD)

	running := make(map[string]bool, len(cfg.Instances))
	for i := range cfg.Instances {
		running[cfg.Instances[i].ID] = o.sup.Status(ctx, &cfg.Instances[i]).Running()
	}

	var routes []domain.Route
	for _, d := range cfg.Domains {
		r, ok := routeFor(cfg, d)
		if !ok {
			o.log.Warn("skipping domain with dangling target",
				logger.String("subdomain", d.Subdomain),
				logger.String("instance_id", d.Target.InstanceID))
			continue
		}
		if r.InstanceID != "" && !running[r.InstanceID] {
			continue
		}
		routes = append(routes, r)
	}
	for _, inst := range cfg.Instances {
		if r, ok := slugRoute(inst); ok && running[inst.ID] {
			routes = append(routes, r)
		}
	}

	o.log.Info("routes rebuilt", logger.Int("routes", len(routes)))
	return o.routes.Replace(ctx, routes)
}

func (o *Orchestrator) applyTLD(tld string) {
	if o.routes.TLD() == tld {
		return
	}
	o.routes.SetTLD(tld)
	for _, r := range o.renderers {
		r.SetTLD(tld)
	}
}

// routeFor resolves a domain's target. It reports false when the target
// names an instance that no longer exists.
func routeFor(cfg *domain.Config, d domain.Domain) (domain.Route, bool) {
	r := domain.Route{Domain: d.Subdomain, SSL: d.SSL}
	switch d.Target.Type {
	case domain.TargetInstance:
		_, inst := cfg.FindInstance(d.Target.InstanceID)
		if inst == nil {
			return domain.Route{}, false
		}
		r.Kind = domain.RouteProxy
		r.Port = inst.Port
		r.InstanceID = inst.ID
	case domain.TargetPort:
		r.Kind = domain.RouteProxy
		r.Port = d.Target.Port
	case domain.TargetStatic:
		r.Kind = domain.RouteStatic
		r.Path = d.Target.Path
		r.Browse = d.Target.Browse
	default:
		return domain.Route{}, false
	}
	return r, true
}

func slugRoute(inst domain.Instance) (domain.Route, bool) {
	if !inst.DomainEnabled || inst.Domain == "" {
		return domain.Route{}, false
	}
	return domain.Route{Domain: inst.Domain, Kind: domain.RouteProxy, Port: inst.Port, InstanceID: inst.ID}, true
}

// instanceRoutes are the routes that exist only while inst runs.
func instanceRoutes(cfg *domain.Config, inst *domain.Instance) []domain.Route {
	var out []domain.Route
	if r, ok := slugRoute(*inst); ok {
		out = append(out, r)
	}
	for _, d := range cfg.Domains {
		if d.Target.Type != domain.TargetInstance || d.Target.InstanceID != inst.ID {
			continue
		}
		if r, ok := routeFor(cfg, d); ok {
			out = append(out, r)
		}
	}
	return out
}

// register and unregister are best effort: a failed external sync is
// logged by the registry and repaired by the next mutation.
func (o *Orchestrator) register(ctx context.Context, r domain.Route) {
	var err error
	if r.Kind == domain.RouteStatic {
		err = o.routes.RegisterStaticRoute(ctx, r.Domain, r.Path, r.Browse, r.SSL)
	} else {
		err = o.routes.RegisterRoute(ctx, r.Domain, r.Port, r.InstanceID, r.SSL)
	}
	if err != nil {
		o.log.Debug("route registered, sync pending", logger.String("domain", r.Domain), logger.Error(err))
	}
}

func (o *Orchestrator) unregister(ctx context.Context, sub string) {
	if err := o.routes.UnregisterRoute(ctx, sub); err != nil {
		o.log.Debug("route unregistered, sync pending", logger.String("domain", sub), logger.Error(err))
	}
}
