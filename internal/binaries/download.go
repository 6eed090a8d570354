package binaries

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
)

// Phases reported through Progress.
const (
	PhaseResolving   = "resolving"
	PhaseDownloading = "downloading"
	PhaseVerifying   = "verifying"
	PhaseExtracting  = "extracting"
	PhaseInstalling  = "installing"
	PhaseDone        = "done"
)

type Progress struct {
	Service    string  `json:"service"`
	Version    string  `json:"version"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"` // -1 when unknown
	Percentage float64 `json:"percentage"`
	Phase      string  `json:"phase"`
}

// ProgressFunc receives progress events. It must not block for long.
type ProgressFunc func(Progress)

// Download resolves the catalog strategy for service, fetches the payload,
// verifies its checksum when one is declared, and installs it under
// bin/{service}/{version}/. A legacy flat binary is migrated first.
func (m *Manager) Download(ctx context.Context, service, version string, progress ProgressFunc) (info *domain.BinaryInfo, err error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.Downloads.WithLabelValues(service, result).Inc()
	}()

	fam, err := services.Lookup(serviceType(service))
	if err != nil {
		return nil, err
	}
	src, err := m.catalog.Source(fam.Type())
	if err != nil {
		return nil, err
	}
	if _, err := m.MigrateLegacy(service); err != nil {
		return nil, err
	}

	emit := func(phase string, done, total int64) {
		progress(newProgress(service, version, phase, done, total))
	}

	switch src.Strategy {
	case services.StrategyVirtual:
		return m.installVirtual(service, version, src)
	case services.StrategyHomebrew:
		emit(PhaseInstalling, 0, -1)
		info, err := m.installHomebrew(ctx, service, fam, src)
		if err == nil {
			progress(newProgress(service, info.Version, PhaseDone, 0, -1))
		}
		return info, err
	}

	emit(PhaseResolving, 0, -1)
	url, err := m.resolveURL(ctx, src, version)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(m.binDir, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	staged, err := os.CreateTemp(filepath.Join(m.binDir, stagingDir), service+"-"+version+"-*"+archiveSuffix(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	stagedName := staged.Name()
	defer func() {
		_ = os.Remove(stagedName)
	}()

	sum, size, err := m.fetch(ctx, url, staged, func(done, total int64) {
		emit(PhaseDownloading, done, total)
	})
	closeErr := staged.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write %s: %w", stagedName, closeErr)
	}

	m.log.Info("binary downloaded",
		logger.String("service", service),
		logger.String("version", version),
		logger.String("size", humanize.Bytes(uint64(size))))

	emit(PhaseVerifying, size, size)
	if want := src.Checksum(version, services.Platform(m.goos, m.goarch)); want != "" {
		if err := VerifyChecksum(want, sum); err != nil {
			return nil, fmt.Errorf("%s %s: %w", service, version, err)
		}
	}

	emit(PhaseExtracting, size, size)
	dir, err := m.install(ctx, service, version, fam.BinaryName(), stagedName, url, src)
	if err != nil {
		return nil, err
	}

	emit(PhaseDone, size, size)
	return &domain.BinaryInfo{
		Version:     version,
		Path:        dir,
		InstalledAt: m.now(),
	}, nil
}

func newProgress(service, version, phase string, done, total int64) Progress {
	p := Progress{Service: service, Version: version, Downloaded: done, Total: total, Phase: phase}
	if total > 0 {
		p.Percentage = float64(done) * 100 / float64(total)
	}
	return p
}

// VerifyChecksum compares hex digests case-insensitively. The error names
// both digests.
func VerifyChecksum(expected, actual string) error {
	if strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(actual)) {
		return nil
	}
	return fmt.Errorf("%w: expected sha256 %s, got %s", ErrChecksumMismatch, expected, actual)
}

// FileSHA256 returns the lowercase hex digest of a file.
func FileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) resolveURL(ctx context.Context, src services.Source, version string) (string, error) {
	switch src.Strategy {
	case services.StrategyDirect:
		return services.Expand(src.URL, version, m.goos, m.goarch), nil
	case services.StrategyGitHub:
		return m.releaseAssetURL(ctx, src, version)
	default:
		return "", fmt.Errorf("strategy %q has no download url", src.Strategy)
	}
}

// fetch streams url into dst while hashing it, reporting progress at most
// every 1%.
func (m *Manager) fetch(ctx context.Context, url string, dst io.Writer, onProgress func(done, total int64)) (string, int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	h := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, report: onProgress}
	n, err := io.Copy(io.MultiWriter(dst, h, pw), resp.Body)
	if err != nil {
		return "", n, fmt.Errorf("failed to download %s: %w", url, err)
	}
	metrics.DownloadBytes.Add(float64(n))
	pw.flush()
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type progressWriter struct {
	done     int64
	total    int64
	lastPct  int64
	reported bool
	report   func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	pct := int64(-1)
	if p.total > 0 {
		pct = p.done * 100 / p.total
	}
	if !p.reported || pct > p.lastPct || (pct < 0 && p.done-p.lastPct >= 1<<20) {
		p.reported = true
		if pct < 0 {
			p.lastPct = p.done
		} else {
			p.lastPct = pct
		}
		p.report(p.done, p.total)
	}
	return len(b), nil
}

func (p *progressWriter) flush() {
	p.report(p.done, p.total)
}

func archiveSuffix(url string) string {
	base := path.Base(url)
	switch {
	case strings.HasSuffix(base, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(base, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(base, ".zip"):
		return ".zip"
	default:
		return ""
	}
}

// retryLogger adapts Logger to retryablehttp.LeveledLogger.
type retryLogger struct{ log logger.Logger }

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Errorf("%s %v", msg, kv) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warnf("%s %v", msg, kv) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debugf("%s %v", msg, kv) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Debugf("%s %v", msg, kv) }

func newHTTPClient(log logger.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = retryLogger{log: log}
	return c
}
