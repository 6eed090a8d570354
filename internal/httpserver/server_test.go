package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/orchestrator"
	"github.com/MrSnakeDoc/devhost/internal/supervisor"
	"github.com/MrSnakeDoc/devhost/internal/utils"
)

type fakeInstances struct {
	list []orchestrator.InstanceStatus
	err  error
}

func (f fakeInstances) ListInstances(context.Context) ([]orchestrator.InstanceStatus, error) {
	return f.list, f.err
}

type fakeRoutes []domain.Route

func (f fakeRoutes) Routes() []domain.Route { return f }
func (f fakeRoutes) Count() int             { return len(f) }
func (f fakeRoutes) LastSync() time.Time    { return time.Time{} }
func (f fakeRoutes) TLD() string            { return "test" }

func testDeps() deps.Deps {
	return deps.Deps{
		Logger:       logger.NewNop(),
		StartTime:    time.Now(),
		Version:      "dev",
		AllowedHosts: []string{"127.0.0.1", "localhost"},
		AllowedCIDRS: utils.LoopbackCIDRs,
		Instances: fakeInstances{list: []orchestrator.InstanceStatus{{
			Instance: domain.Instance{ID: "i1", Name: "cache", Port: 6379},
			Status:   supervisor.Status{State: supervisor.StateRunning, PID: 42},
			Healthy:  true,
		}}},
		Routes:        fakeRoutes{{Domain: "api", Kind: domain.RouteProxy, Port: 7700}},
		Ready:         func() bool { return true },
		ReloadTrigger: make(chan struct{}, 1),
		Metrics:       http.NotFoundHandler(),
	}
}

func do(h http.Handler, method, target, host, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Host = host
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestControlAPI(t *testing.T) {
	h := NewRouter(testDeps())

	tests := []struct {
		name   string
		method string
		path   string
		host   string
		remote string
		want   int
	}{
		{"healthz", http.MethodGet, "/healthz", "127.0.0.1:7890", "127.0.0.1:5555", http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", "127.0.0.1:7890", "127.0.0.1:5555", http.StatusOK},
		{"routes", http.MethodGet, "/api/routes", "localhost:7890", "[::1]:5555", http.StatusOK},
		{"instances", http.MethodGet, "/api/instances", "localhost:7890", "127.0.0.1:5555", http.StatusOK},
		{"infra", http.MethodGet, "/api/infra", "localhost:7890", "127.0.0.1:5555", http.StatusOK},
		{"reload", http.MethodPost, "/api/reload", "localhost:7890", "127.0.0.1:5555", http.StatusAccepted},
		{"reload pending", http.MethodPost, "/api/reload", "localhost:7890", "127.0.0.1:5555", http.StatusTooManyRequests},
		{"remote client", http.MethodGet, "/healthz", "127.0.0.1:7890", "192.168.1.20:5555", http.StatusForbidden},
		{"rebinding host", http.MethodGet, "/api/routes", "evil.example:7890", "127.0.0.1:5555", http.StatusForbidden},
		{"reload needs post", http.MethodGet, "/api/reload", "localhost:7890", "127.0.0.1:5555", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.path, tt.host, tt.remote)
			if rec.Code != tt.want {
				t.Errorf("%s %s: got %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRoutesBody(t *testing.T) {
	rec := do(NewRouter(testDeps()), http.MethodGet, "/api/routes", "localhost", "127.0.0.1:1")

	var body struct {
		TLD      string         `json:"tld"`
		LastSync string         `json:"last_sync"`
		Routes   []domain.Route `json:"routes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TLD != "test" || body.LastSync != "never" || len(body.Routes) != 1 || body.Routes[0].Port != 7700 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestReadyzNotReady(t *testing.T) {
	d := testDeps()
	d.Ready = func() bool { return false }

	rec := do(NewRouter(d), http.MethodGet, "/readyz", "localhost", "127.0.0.1:1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rec.Code)
	}
}

func TestInstancesError(t *testing.T) {
	d := testDeps()
	d.Instances = fakeInstances{err: errors.New("config unreadable")}

	rec := do(NewRouter(d), http.MethodGet, "/api/instances", "localhost", "127.0.0.1:1")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got %d, want 500", rec.Code)
	}
}
