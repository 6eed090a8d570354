package caddy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/execx"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

type Options struct {
	Dir    string // holds Caddyfile and sites/
	Bin    string
	TLD    string
	Runner execx.Runner
	Log    logger.Logger
}

// Writer keeps the caddy config directory in step with the route set.
// It is a no-op when caddy is not installed.
type Writer struct {
	dir    string
	bin    string
	runner execx.Runner
	log    logger.Logger

	mu  sync.Mutex
	tld string
}

func NewWriter(opts Options) *Writer {
	if opts.Bin == "" {
		opts.Bin = "caddy"
	}
	if opts.Runner == nil {
		opts.Runner = execx.OS{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Writer{dir: opts.Dir, bin: opts.Bin, runner: opts.Runner, log: opts.Log, tld: opts.TLD}
}

func (w *Writer) MainFile() string { return filepath.Join(w.dir, "Caddyfile") }
func (w *Writer) SitesDir() string { return filepath.Join(w.dir, "sites") }

func (w *Writer) SetTLD(tld string) {
	w.mu.Lock()
	w.tld = tld
	w.mu.Unlock()
}

// Installed reports whether the caddy binary can be found.
func (w *Writer) Installed() bool {
	_, err := w.runner.LookPath(w.bin)
	return err == nil
}

// Sync regenerates every site file, prunes files for routes that are gone
// and reloads caddy. An empty route list never prunes.
func (w *Writer) Sync(ctx context.Context, routes []domain.Route) error {
	if !w.Installed() {
		w.log.Debug("caddy not installed, skipping sync", logger.String("bin", w.bin))
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeMain(); err != nil {
		return err
	}

	keep := make(map[string]bool, len(routes))
	for _, r := range routes {
		name := SiteFileName(r, w.tld)
		keep[name] = true
		if err := w.writeSite(r); err != nil {
			return err
		}
	}

	if len(routes) > 0 {
		if err := w.prune(keep); err != nil {
			return err
		}
	}

	if err := w.touchMain(); err != nil {
		return err
	}
	return w.reload(ctx)
}

func (w *Writer) writeMain() error {
	if err := os.MkdirAll(w.SitesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create caddy sites dir: %w", err)
	}
	return writeIfChanged(w.MainFile(), []byte(MainConfig(w.tld, w.SitesDir())))
}

func (w *Writer) writeSite(r domain.Route) error {
	path := filepath.Join(w.SitesDir(), SiteFileName(r, w.tld))
	if err := writeIfChanged(path, []byte(SiteConfig(r, w.tld))); err != nil {
		return fmt.Errorf("failed to write caddy site %s: %w", r.Domain, err)
	}
	return nil
}

func (w *Writer) prune(keep map[string]bool) error {
	entries, err := os.ReadDir(w.SitesDir())
	if err != nil {
		return fmt.Errorf("failed to list caddy sites: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, SiteExt) || keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(w.SitesDir(), name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to prune caddy site %s: %w", name, err)
		}
		w.log.Debug("pruned caddy site", logger.String("file", name))
	}
	return nil
}

func (w *Writer) touchMain() error {
	now := time.Now()
	if err := os.Chtimes(w.MainFile(), now, now); err != nil {
		return fmt.Errorf("failed to touch %s: %w", w.MainFile(), err)
	}
	return nil
}

func (w *Writer) reload(ctx context.Context) error {
	out, err := w.runner.Run(ctx, w.bin, "reload", "--config", w.MainFile(), "--adapter", "caddyfile")
	if err != nil {
		return fmt.Errorf("caddy reload failed: %w: %s", err, bytes.TrimSpace(out))
	}
	w.log.Debug("caddy reloaded")
	return nil
}

// writeIfChanged replaces path atomically, skipping identical content.
func writeIfChanged(path string, data []byte) error {
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
