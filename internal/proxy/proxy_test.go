package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

type recordingSyncer struct {
	mu    sync.Mutex
	calls int
	last  []domain.Route
	err   error
}

func (s *recordingSyncer) Sync(_ context.Context, routes []domain.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = routes
	return s.err
}

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func serve(h http.Handler, host string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://"+host+"/hello?x=1", nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLabel(t *testing.T) {
	reg := NewRegistry(".test", nil, nil)
	tests := map[string]string{
		"api.test":        "api",
		"API.Test:8080":   "api",
		"api.test.":       "api",
		"api":             "api",
		"deep.api.test":   "deep.api",
		"api.example.com": "api.example.com",
		"[::1]:8080":      "::1",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, reg.Label(in))
		})
	}
}

func TestRegisterOverwritesAndSyncs(t *testing.T) {
	syncer := &recordingSyncer{}
	reg := NewRegistry("test", syncer, nil)
	ctx := context.Background()

	require.NoError(t, reg.RegisterRoute(ctx, "api", 7700, "inst-1", false))
	require.NoError(t, reg.RegisterRoute(ctx, "api.test", 7700, "inst-1", true))

	assert.Equal(t, 1, reg.Count())
	route, ok := reg.Lookup("api")
	require.True(t, ok)
	assert.True(t, route.SSL)

	assert.Equal(t, 2, syncer.calls)
	require.Len(t, syncer.last, 1)
	assert.True(t, syncer.last[0].SSL)

	require.NoError(t, reg.UnregisterRoute(ctx, "api"))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 3, syncer.calls)
	assert.Empty(t, syncer.last)
}

func TestSyncErrorKeepsRoute(t *testing.T) {
	syncer := &recordingSyncer{err: errors.New("caddy down")}
	reg := NewRegistry("test", syncer, nil)

	err := reg.RegisterStaticRoute(context.Background(), "docs", "/srv/docs", true, false)
	require.Error(t, err)

	route, ok := reg.Lookup("docs")
	require.True(t, ok)
	assert.Equal(t, domain.RouteStatic, route.Kind)
	assert.True(t, reg.LastSync().IsZero())
}

func TestReplace(t *testing.T) {
	syncer := &recordingSyncer{}
	reg := NewRegistry("test", syncer, nil)
	ctx := context.Background()
	require.NoError(t, reg.RegisterRoute(ctx, "old", 1000, "", false))

	require.NoError(t, reg.Replace(ctx, []domain.Route{
		{Domain: "b.test", Kind: domain.RouteProxy, Port: 2},
		{Domain: "a", Kind: domain.RouteProxy, Port: 1},
	}))

	routes := reg.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "a", routes[0].Domain)
	assert.Equal(t, "b", routes[1].Domain)
	_, ok := reg.Lookup("old")
	assert.False(t, ok)
	assert.False(t, reg.LastSync().IsZero())
}

func TestHandlerMiss(t *testing.T) {
	reg := NewRegistry("test", nil, nil)
	rec := serve(NewHandler(reg, nil, HandlerOptions{}), "nope.test")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope.test")
}

func TestHandlerStaticRefused(t *testing.T) {
	reg := NewRegistry("test", nil, nil)
	require.NoError(t, reg.RegisterStaticRoute(context.Background(), "docs", t.TempDir(), false, false))

	rec := serve(NewHandler(reg, nil, HandlerOptions{}), "docs.test")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerProxies(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Host", r.Host)
		w.Header().Set("X-Seen-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		w.Header().Set("X-Seen-Forwarded-Proto", r.Header.Get("X-Forwarded-Proto"))
		_, _ = io.WriteString(w, r.URL.RequestURI())
	}))
	defer backend.Close()

	reg := NewRegistry("test", nil, nil)
	require.NoError(t, reg.RegisterRoute(context.Background(), "api", backendPort(t, backend), "", false))

	rec := serve(NewHandler(reg, nil, HandlerOptions{}), "api.test:8080")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/hello?x=1", rec.Body.String())
	assert.Equal(t, "api.test:8080", rec.Header().Get("X-Seen-Host"))
	assert.Equal(t, "api.test:8080", rec.Header().Get("X-Seen-Forwarded-Host"))
	assert.Equal(t, "http", rec.Header().Get("X-Seen-Forwarded-Proto"))
}

func TestHandlerBackendDown(t *testing.T) {
	reg := NewRegistry("test", nil, nil)
	port := closedPort(t)
	require.NoError(t, reg.RegisterRoute(context.Background(), "api", port, "", false))

	rec := serve(NewHandler(reg, nil, HandlerOptions{}), "api.test")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), strconv.Itoa(port))
}

func TestServerRoutesThroughChi(t *testing.T) {
	reg := NewRegistry("test", nil, nil)
	srv := NewServer("127.0.0.1:0", NewHandler(reg, nil, HandlerOptions{}), logger.NewNop())

	rec := serve(srv.http.Handler, "missing.test")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
