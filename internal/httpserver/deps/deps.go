package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/orchestrator"
)

// Instances is the slice of the orchestrator the control API reads.
type Instances interface {
	ListInstances(ctx context.Context) ([]orchestrator.InstanceStatus, error)
}

// Routes is satisfied by the proxy registry.
type Routes interface {
	Routes() []domain.Route
	Count() int
	LastSync() time.Time
	TLD() string
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	AllowedHosts   []string      // Host headers accepted by the control API
	AllowedCIDRS   []string      // client addresses accepted by the control API
	Instances      Instances     // instance listing with status
	Routes         Routes        // live proxy routes
	Ready          func() bool   // true once routes were rebuilt at startup
	CaddyInstalled func() bool   // external proxy presence
	ReloadTrigger  chan struct{} // wakes the reconciler for a route rebuild
	Metrics        http.Handler  // Prometheus exposition
}
