package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrSnakeDoc/devhost/internal/caddy"
	"github.com/MrSnakeDoc/devhost/internal/config"
	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/store"
)

func TestNotifyDaemon(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"accepted", http.StatusAccepted, true},
		{"already pending", http.StatusTooManyRequests, true},
		{"forbidden", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/reload" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			if got := NotifyDaemon(context.Background(), srv.Listener.Addr().String()); got != tt.want {
				t.Errorf("NotifyDaemon = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotifyDaemonNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	if NotifyDaemon(context.Background(), addr) {
		t.Error("expected false with nothing listening")
	}
}

func TestNewCoreCreatesLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DEVHOST_HOME", home)
	t.Setenv("DEVHOST_CADDY_BIN", filepath.Join(home, "no-caddy"))
	cfg := config.Load()

	core, err := NewCore(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}

	for _, dir := range []string{cfg.BinDir(), cfg.DataDir(), cfg.PidsDir(), cfg.LogsDir(), cfg.CaddyDir} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
	if got := core.Orch.Routes().TLD(); got != "test" {
		t.Errorf("TLD = %q, want test", got)
	}
	if core.Caddy.Installed() {
		t.Error("caddy should not be found")
	}
}

// Each CLI invocation builds a fresh core. A domain created through one
// must reach caddy without removing the sites created by earlier ones.
func TestCoreSyncsCaddyAcrossInvocations(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("needs /bin/true as a stand-in caddy binary")
	}
	home := t.TempDir()
	t.Setenv("DEVHOST_HOME", home)
	t.Setenv("DEVHOST_CADDY_BIN", "/bin/true")
	cfg := config.Load()
	ctx := context.Background()

	create := func(sub string) {
		t.Helper()
		core, err := NewCore(cfg, logger.NewNop())
		if err != nil {
			t.Fatalf("NewCore: %v", err)
		}
		if err := core.Orch.RebuildRoutes(ctx); err != nil {
			t.Fatalf("RebuildRoutes: %v", err)
		}
		_, err = core.Orch.CreateDomain(ctx, store.NewDomain{
			Subdomain: sub,
			Target:    domain.DomainTarget{Type: domain.TargetStatic, Path: t.TempDir()},
		})
		if err != nil {
			t.Fatalf("CreateDomain(%s): %v", sub, err)
		}
	}

	create("docs")
	create("blog")

	for _, sub := range []string{"docs", "blog"} {
		name := caddy.SiteFileName(domain.Route{Domain: sub, Kind: domain.RouteStatic}, "test")
		if _, err := os.Stat(filepath.Join(cfg.CaddyDir, "sites", name)); err != nil {
			t.Errorf("site file for %s missing: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.CaddyDir, "Caddyfile")); err != nil {
		t.Errorf("main Caddyfile missing: %v", err)
	}
}
