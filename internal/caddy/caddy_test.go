package caddy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/execx"
)

func proxyRoute(sub string, port int, ssl bool) domain.Route {
	return domain.Route{Domain: sub, Kind: domain.RouteProxy, Port: port, SSL: ssl}
}

func TestSiteConfigProxy(t *testing.T) {
	out := SiteConfig(proxyRoute("api", 7700, false), "test")

	assert.Contains(t, out, "http://api.test {")
	assert.NotContains(t, out, "https://")
	assert.NotContains(t, out, "tls internal")
	assert.Contains(t, out, "reverse_proxy 127.0.0.1:7700")
	for _, code := range []string{"502", "503", "504"} {
		assert.Contains(t, out, "handle_errors "+code+" {")
	}
	assert.Contains(t, out, "api.test is down")
	assert.Contains(t, out, "port 7700")
}

func TestSiteConfigSSLEmitsBothBlocks(t *testing.T) {
	out := SiteConfig(proxyRoute("api", 7700, true), ".test")

	assert.Contains(t, out, "http://api.test {")
	assert.Contains(t, out, "https://api.test {")
	assert.Equal(t, 1, strings.Count(out, "tls internal"))
	assert.Equal(t, 2, strings.Count(out, "reverse_proxy 127.0.0.1:7700"))
}

func TestSiteConfigStatic(t *testing.T) {
	out := SiteConfig(domain.Route{Domain: "docs", Kind: domain.RouteStatic, Path: "/srv/my docs", Browse: true}, "test")

	assert.Contains(t, out, `root * "/srv/my docs"`)
	assert.Contains(t, out, "file_server browse")
	assert.NotContains(t, out, "reverse_proxy")
	assert.NotContains(t, out, "handle_errors")

	plain := SiteConfig(domain.Route{Domain: "docs", Kind: domain.RouteStatic, Path: "/srv/docs"}, "test")
	assert.Contains(t, plain, "root * /srv/docs\n")
	assert.Contains(t, plain, "\tfile_server\n")
}

func TestMainConfig(t *testing.T) {
	out := MainConfig("test", "/home/u/.devhost/caddy/sites")
	assert.Contains(t, out, "import /home/u/.devhost/caddy/sites/*.caddy")
	assert.Contains(t, out, "http://*.test, https://*.test {")
	assert.Contains(t, out, " 404\n")
}

func newWriter(t *testing.T, installed bool) (*Writer, *execx.Fake) {
	t.Helper()
	fake := execx.NewFake()
	if installed {
		fake.Paths["caddy"] = "/usr/local/bin/caddy"
	}
	fake.On("caddy", "", nil)
	return NewWriter(Options{Dir: t.TempDir(), TLD: "test", Runner: fake}), fake
}

func sites(t *testing.T, w *Writer) []string {
	t.Helper()
	entries, err := os.ReadDir(w.SitesDir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSyncWritesAndReloads(t *testing.T) {
	w, fake := newWriter(t, true)
	ctx := context.Background()

	require.NoError(t, w.Sync(ctx, []domain.Route{proxyRoute("api", 7700, false)}))
	require.NoError(t, w.Sync(ctx, []domain.Route{proxyRoute("api", 7700, true)}))

	assert.Equal(t, []string{"api.test.caddy"}, sites(t, w))
	data, err := os.ReadFile(filepath.Join(w.SitesDir(), "api.test.caddy"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "http://api.test {")
	assert.Contains(t, string(data), "https://api.test {")

	assert.FileExists(t, w.MainFile())
	assert.True(t, fake.Called("caddy reload --config "+w.MainFile()+" --adapter caddyfile"))
}

func TestSyncPrunesOrphans(t *testing.T) {
	w, _ := newWriter(t, true)
	ctx := context.Background()

	require.NoError(t, w.Sync(ctx, []domain.Route{proxyRoute("a", 1, false), proxyRoute("b", 2, false)}))
	require.NoError(t, w.Sync(ctx, []domain.Route{proxyRoute("b", 2, false)}))
	assert.Equal(t, []string{"b.test.caddy"}, sites(t, w))

	// an empty list looks like a failed load, not an intent to remove all
	require.NoError(t, w.Sync(ctx, nil))
	assert.Equal(t, []string{"b.test.caddy"}, sites(t, w))
}

func TestSyncNoopWithoutCaddy(t *testing.T) {
	w, fake := newWriter(t, false)

	require.NoError(t, w.Sync(context.Background(), []domain.Route{proxyRoute("api", 7700, false)}))
	assert.NoFileExists(t, w.MainFile())
	assert.Empty(t, fake.Calls)
}

func TestSyncTouchesMain(t *testing.T) {
	w, _ := newWriter(t, true)
	ctx := context.Background()
	routes := []domain.Route{proxyRoute("api", 7700, false)}
	require.NoError(t, w.Sync(ctx, routes))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(w.MainFile(), old, old))

	require.NoError(t, w.Sync(ctx, append(routes, proxyRoute("web", 8000, false))))
	fi, err := os.Stat(w.MainFile())
	require.NoError(t, err)
	assert.True(t, fi.ModTime().After(old.Add(time.Minute)))
	assert.ElementsMatch(t, []string{"api.test.caddy", "web.test.caddy"}, sites(t, w))
}
