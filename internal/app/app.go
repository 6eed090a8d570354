package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
	"github.com/MrSnakeDoc/devhost/internal/caddy"
	"github.com/MrSnakeDoc/devhost/internal/config"
	"github.com/MrSnakeDoc/devhost/internal/health"
	"github.com/MrSnakeDoc/devhost/internal/httpserver"
	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
	"github.com/MrSnakeDoc/devhost/internal/orchestrator"
	"github.com/MrSnakeDoc/devhost/internal/proxy"
	"github.com/MrSnakeDoc/devhost/internal/scheduler"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/MrSnakeDoc/devhost/internal/store"
	"github.com/MrSnakeDoc/devhost/internal/supervisor"
	"github.com/MrSnakeDoc/devhost/internal/tunnel"
	"github.com/MrSnakeDoc/devhost/internal/utils"
	"github.com/MrSnakeDoc/devhost/internal/version"
)

// Core is the component graph shared by the daemon and the CLI.
type Core struct {
	Cfg   *config.Config
	Log   logger.Logger
	Store *store.Store
	Orch  *orchestrator.Orchestrator
	Caddy *caddy.Writer
}

// NewCore wires the store, binary manager, supervisor and route registry.
// Every route mutation resyncs caddy, from the daemon and the CLI alike.
// Callers that mutate routes must seed the registry with
// Orch.RebuildRoutes first: a sync of a partial set prunes the sites it
// does not name.
func NewCore(cfg *config.Config, log logger.Logger) (*Core, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create state directories: %w", err)
	}

	catalog, err := services.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.ConfigFile, cfg.DataDir(), log)
	settings, err := st.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfg.ConfigFile, err)
	}

	bins := binaries.New(binaries.Options{
		BinDir:      cfg.BinDir(),
		Catalog:     catalog,
		ReleasesAPI: cfg.ReleasesAPI,
		BrewBin:     cfg.BrewBin,
		Log:         log,
	})

	sup := supervisor.New(supervisor.Options{
		PidsDir:     cfg.PidsDir(),
		LogsDir:     cfg.LogsDir(),
		DataDir:     st.InstanceDataDir,
		Binaries:    bins,
		Tunnels:     tunnel.Writer{Source: st},
		PM2Bin:      cfg.PM2Bin,
		StopTimeout: cfg.StopTimeout,
		ProbeDelay:  cfg.ProbeDelay,
		Log:         log,
	})

	cw := caddy.NewWriter(caddy.Options{
		Dir: cfg.CaddyDir,
		Bin: cfg.CaddyBin,
		TLD: settings.TLD,
		Log: log,
	})

	routes := proxy.NewRegistry(settings.TLD, cw, log)

	orch := orchestrator.New(orchestrator.Options{
		Store:      st,
		Binaries:   bins,
		Supervisor: sup,
		Routes:     routes,
		Health:     health.NewChecker(cfg.HealthTimeout, log),
		Renderers:  []orchestrator.TLDSetter{cw},
		Log:        log,
	})

	return &Core{Cfg: cfg, Log: log, Store: st, Orch: orch, Caddy: cw}, nil
}

// NewLogger builds the daemon/CLI logger from config.
func NewLogger(cfg *config.Config) logger.Logger {
	return logger.NewWithOptions(logger.Options{
		Level:     cfg.LogLevel,
		Pretty:    cfg.PrettyLog,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxMB,
	})
}

type App struct {
	core       *Core
	proxy      *proxy.Server
	control    *httpserver.Server
	reconciler *scheduler.Reconciler
	gc         *scheduler.GarbageCollector
	ready      atomic.Bool
}

func New(cfg *config.Config, log logger.Logger) (*App, error) {
	core, err := NewCore(cfg, log)
	if err != nil {
		return nil, err
	}

	proxyAddr := cfg.ProxyAddr
	if proxyAddr == "" {
		settings, err := core.Store.GetSettings()
		if err != nil {
			return nil, err
		}
		proxyAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(settings.ProxyPort))
	}

	a := &App{core: core}

	routes := core.Orch.Routes()
	a.proxy = proxy.NewServer(proxyAddr, proxy.NewHandler(routes, log, proxy.HandlerOptions{}), log)

	reloadTrigger := make(chan struct{}, 1)
	a.reconciler = scheduler.NewReconciler(core.Orch, log, cfg.ReconcileInterval, reloadTrigger)
	a.gc = scheduler.NewGarbageCollector(core.Store, cfg.LogsDir(), log, cfg.GCInterval, scheduler.DefaultGCThreshold)

	d := deps.Deps{
		Logger:         log,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		AllowedHosts:   []string{"localhost", "127.0.0.1", "::1"},
		AllowedCIDRS:   utils.LoopbackCIDRs,
		Instances:      core.Orch,
		Routes:         routes,
		Ready:          a.ready.Load,
		CaddyInstalled: core.Caddy.Installed,
		ReloadTrigger:  reloadTrigger,
		Metrics:        metrics.Handler(),
	}
	a.control = httpserver.New(cfg.ControlAddr, d)

	return a, nil
}

func (a *App) Run() error {
	log := a.core.Log
	log.Infof("devhost %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !a.core.Caddy.Installed() {
		log.Warn("caddy not found, static sites and https are disabled")
	}

	// Routes first so the proxy never serves an empty table after a restart.
	if err := a.core.Orch.RebuildRoutes(ctx); err != nil {
		log.Warn("initial route build incomplete", logger.Error(err))
	}

	if err := a.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	log.Info("reconciler started", logger.Duration("interval", a.core.Cfg.ReconcileInterval))

	if err := a.gc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start garbage collector: %w", err)
	}
	log.Info("garbage collector started", logger.Duration("interval", a.core.Cfg.GCInterval))

	errCh := make(chan error, 2)
	go func() {
		if err := a.proxy.Start(); err != nil {
			errCh <- fmt.Errorf("proxy server error: %w", err)
		}
	}()
	go func() {
		if err := a.control.Start(); err != nil {
			errCh <- fmt.Errorf("control server error: %w", err)
		}
	}()
	a.ready.Store(true)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case runErr = <-errCh:
	}
	a.ready.Store(false)

	a.reconciler.Stop()
	a.gc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.core.Cfg.ShutdownTimeout)
	defer cancel()
	if err := a.proxy.Stop(shutdownCtx); err != nil {
		log.Warn("failed to stop proxy", logger.Error(err))
	}
	if err := a.control.Stop(shutdownCtx); err != nil {
		log.Warn("failed to stop control API", logger.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	log.Info("devhost stopped cleanly")
	return nil
}

// NotifyDaemon asks a running daemon to rebuild its in-memory routes
// after the CLI changed the store. It reports false when no daemon answered.
func NotifyDaemon(ctx context.Context, controlAddr string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+controlAddr+"/api/reload", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusTooManyRequests
}
