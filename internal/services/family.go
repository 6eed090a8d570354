// Package services describes how each service family is installed, started
// and probed.
package services

import (
	"fmt"
	"sort"

	"github.com/MrSnakeDoc/devhost/internal/domain"
)

// Management selects how the supervisor runs a family.
type Management string

const (
	ManagedBinary Management = "binary"
	ManagedPM2    Management = "pm2"
	ManagedTunnel Management = "tunnel"
)

// HealthKind selects the reachability probe.
type HealthKind string

const (
	HealthNone     HealthKind = "none"
	HealthTCP      HealthKind = "tcp"
	HealthHTTP     HealthKind = "http"
	HealthRedis    HealthKind = "redis"
	HealthPostgres HealthKind = "postgres"
	HealthMySQL    HealthKind = "mysql"
)

// StartContext is everything a family needs to build its command line.
type StartContext struct {
	Instance   *domain.Instance
	BinaryPath string // main executable
	BinaryDir  string // bin/{service}/{version}
	DataDir    string
	ConfigFile string // generated config (tunnel families)
	TLD        string
	SSL        bool
}

// Command is an external invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
}

type Family interface {
	Type() domain.ServiceType
	BinaryName() string
	DefaultPort() int
	Management() Management
	Health() (HealthKind, string)
	Args(sc StartContext) []string
	Env(sc StartContext) []string
	// InitCommand returns the one-time bootstrap for the data directory,
	// or nil when the family has none.
	InitCommand(sc StartContext) *Command
}

// base carries the static facts shared by every family.
type base struct {
	typ        domain.ServiceType
	binary     string
	port       int
	management Management
	health     HealthKind
	healthPath string
}

func (b base) Type() domain.ServiceType          { return b.typ }
func (b base) BinaryName() string                { return b.binary }
func (b base) DefaultPort() int                  { return b.port }
func (b base) Management() Management            { return b.management }
func (b base) Health() (HealthKind, string)      { return b.health, b.healthPath }
func (b base) Env(StartContext) []string         { return nil }
func (b base) InitCommand(StartContext) *Command { return nil }

var registry = map[domain.ServiceType]Family{}

func register(f Family) {
	if _, dup := registry[f.Type()]; dup {
		panic(fmt.Sprintf("services: duplicate family %s", f.Type()))
	}
	registry[f.Type()] = f
}

// Lookup returns the family for a service type.
func Lookup(t domain.ServiceType) (Family, error) {
	f, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("unknown service type %q", t)
	}
	return f, nil
}

// All returns every registered family sorted by type.
func All() []Family {
	out := make([]Family, 0, len(registry))
	for _, f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}
