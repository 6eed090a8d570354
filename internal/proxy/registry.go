// Package proxy is the in-process Host-header router and its route registry.
package proxy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
)

// Syncer mirrors the full route set to an external proxy daemon.
type Syncer interface {
	Sync(ctx context.Context, routes []domain.Route) error
}

// Registry holds routes keyed by subdomain label. Every mutation resyncs
// the whole set through the Syncer.
type Registry struct {
	mu       sync.RWMutex
	routes   map[string]domain.Route
	tld      string
	lastSync time.Time

	syncer Syncer
	log    logger.Logger
}

func NewRegistry(tld string, syncer Syncer, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		routes: make(map[string]domain.Route),
		tld:    normalizeTLD(tld),
		syncer: syncer,
		log:    log,
	}
}

func normalizeTLD(tld string) string {
	return strings.Trim(strings.ToLower(tld), ".")
}

// Label reduces a host or domain to the registry key: lowercase, no port,
// no trailing dot, TLD suffix stripped.
func (r *Registry) Label(host string) string {
	h := strings.TrimSuffix(strings.ToLower(stripPort(host)), ".")
	tld := r.TLD()
	if tld != "" {
		h = strings.TrimSuffix(h, "."+tld)
	}
	return h
}

func (r *Registry) TLD() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tld
}

// SetTLD changes the suffix stripped from incoming hosts.
func (r *Registry) SetTLD(tld string) {
	r.mu.Lock()
	r.tld = normalizeTLD(tld)
	r.mu.Unlock()
}

// RegisterRoute maps a subdomain to a local port. Registering an existing
// subdomain overwrites it.
func (r *Registry) RegisterRoute(ctx context.Context, sub string, port int, instanceID string, ssl bool) error {
	return r.put(ctx, domain.Route{
		Domain:     r.Label(sub),
		Kind:       domain.RouteProxy,
		Port:       port,
		InstanceID: instanceID,
		SSL:        ssl,
	})
}

// RegisterStaticRoute maps a subdomain to a directory served by the external daemon.
func (r *Registry) RegisterStaticRoute(ctx context.Context, sub, path string, browse, ssl bool) error {
	return r.put(ctx, domain.Route{
		Domain: r.Label(sub),
		Kind:   domain.RouteStatic,
		Path:   path,
		Browse: browse,
		SSL:    ssl,
	})
}

func (r *Registry) put(ctx context.Context, route domain.Route) error {
	r.mu.Lock()
	r.routes[route.Domain] = route
	r.mu.Unlock()

	r.log.Debug("route registered",
		logger.String("domain", route.Domain),
		logger.String("kind", string(route.Kind)),
		logger.Int("port", route.Port))
	return r.sync(ctx)
}

// UnregisterRoute removes a subdomain. Removing an unknown subdomain still resyncs.
func (r *Registry) UnregisterRoute(ctx context.Context, sub string) error {
	label := r.Label(sub)
	r.mu.Lock()
	delete(r.routes, label)
	r.mu.Unlock()

	r.log.Debug("route unregistered", logger.String("domain", label))
	return r.sync(ctx)
}

// Replace swaps the whole working set, as on daemon start.
func (r *Registry) Replace(ctx context.Context, routes []domain.Route) error {
	next := make(map[string]domain.Route, len(routes))
	for _, route := range routes {
		route.Domain = r.Label(route.Domain)
		next[route.Domain] = route
	}

	r.mu.Lock()
	r.routes = next
	r.mu.Unlock()
	return r.sync(ctx)
}

func (r *Registry) Lookup(label string) (domain.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[label]
	return route, ok
}

// Routes returns a snapshot sorted by domain.
func (r *Registry) Routes() []domain.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Labels returns the registered subdomain labels, unordered.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for label := range r.routes {
		out = append(out, label)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

func (r *Registry) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

func (r *Registry) sync(ctx context.Context) error {
	routes := r.Routes()
	metrics.Routes.Set(float64(len(routes)))
	if r.syncer == nil {
		return nil
	}

	if err := r.syncer.Sync(ctx, routes); err != nil {
		metrics.ProxySyncs.WithLabelValues("error").Inc()
		r.log.Warn("external proxy sync failed", logger.Int("routes", len(routes)), logger.Error(err))
		return err
	}
	metrics.ProxySyncs.WithLabelValues("ok").Inc()

	r.mu.Lock()
	r.lastSync = time.Now()
	r.mu.Unlock()
	return nil
}
