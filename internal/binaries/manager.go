// Package binaries manages versioned service binaries under
// bin/{service}/{version}/.
package binaries

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/execx"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/mod/semver"
)

var (
	ErrNotInstalled      = errors.New("binary not installed")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrUnsupported       = errors.New("unsupported platform")
	ErrHomebrewMissing   = errors.New("homebrew is not installed")
	ErrVersionUnresolved = errors.New("version not found in release index")
)

const (
	// LegacyVersion names the slot a pre-versioning flat binary is moved into.
	LegacyVersion = "legacy"

	virtualMarker = ".virtual"
	stagingDir    = ".staging"
)

type Options struct {
	BinDir      string
	Catalog     *services.Catalog
	ReleasesAPI string // ex: https://api.github.com
	BrewBin     string
	Runner      execx.Runner
	Log         logger.Logger

	// GOOS/GOARCH default to the running platform.
	GOOS   string
	GOARCH string

	// HTTPClient overrides the retrying client, mostly for tests.
	HTTPClient *retryablehttp.Client
}

type Manager struct {
	binDir      string
	catalog     *services.Catalog
	releasesAPI string
	brewBin     string
	runner      execx.Runner
	log         logger.Logger
	goos        string
	goarch      string
	http        *retryablehttp.Client
	now         func() time.Time
}

func New(opts Options) *Manager {
	m := &Manager{
		binDir:      opts.BinDir,
		catalog:     opts.Catalog,
		releasesAPI: strings.TrimRight(opts.ReleasesAPI, "/"),
		brewBin:     opts.BrewBin,
		runner:      opts.Runner,
		log:         opts.Log,
		goos:        opts.GOOS,
		goarch:      opts.GOARCH,
		http:        opts.HTTPClient,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if m.goos == "" {
		m.goos = runtime.GOOS
	}
	if m.goarch == "" {
		m.goarch = runtime.GOARCH
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}
	if m.brewBin == "" {
		m.brewBin = "brew"
	}
	if m.runner == nil {
		m.runner = execx.OS{}
	}
	if m.http == nil {
		m.http = newHTTPClient(m.log)
	}
	if m.catalog == nil {
		c, err := services.DefaultCatalog()
		if err != nil {
			panic(err)
		}
		m.catalog = c
	}
	return m
}

func (m *Manager) BinDir() string { return m.binDir }

func (m *Manager) serviceDir(service string) string {
	return filepath.Join(m.binDir, service)
}

// VersionDir is where a version is (or would be) installed.
func (m *Manager) VersionDir(service, version string) string {
	return filepath.Join(m.binDir, service, version)
}

func (m *Manager) hasLegacyFlat(service string) bool {
	fi, err := os.Stat(m.serviceDir(service))
	return err == nil && fi.Mode().IsRegular()
}

// InstalledVersions scans bin/{service}/*/. A version counts when its
// directory holds the family's binary (or a virtual-install marker). A
// legacy flat bin/{service} file is reported as "legacy".
func (m *Manager) InstalledVersions(service string) ([]string, error) {
	fam, err := services.Lookup(serviceType(service))
	if err != nil {
		return nil, err
	}

	if m.hasLegacyFlat(service) {
		return []string{LegacyVersion}, nil
	}

	entries, err := os.ReadDir(m.serviceDir(service))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.serviceDir(service), err)
	}

	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(m.serviceDir(service), e.Name())
		if exists(filepath.Join(dir, fam.BinaryName())) || exists(filepath.Join(dir, virtualMarker)) {
			versions = append(versions, e.Name())
		}
	}
	SortVersions(versions)
	return versions, nil
}

// IsInstalled reports whether the version is present on disk.
func (m *Manager) IsInstalled(service, version string) bool {
	_, err := m.Resolve(service, version)
	return err == nil
}

// Resolved is an installed version on disk.
type Resolved struct {
	Path    string // main executable, empty for virtual installs
	Dir     string
	Virtual bool
}

// Resolve returns the executable for a version, falling back to the legacy
// flat binary when the service has not been migrated yet.
func (m *Manager) Resolve(service, version string) (Resolved, error) {
	fam, err := services.Lookup(serviceType(service))
	if err != nil {
		return Resolved{}, err
	}

	dir := m.VersionDir(service, version)
	if exists(filepath.Join(dir, virtualMarker)) {
		return Resolved{Dir: dir, Virtual: true}, nil
	}
	if p := filepath.Join(dir, fam.BinaryName()); exists(p) {
		return Resolved{Path: p, Dir: dir}, nil
	}
	if m.hasLegacyFlat(service) {
		flat := m.serviceDir(service)
		return Resolved{Path: flat, Dir: filepath.Dir(flat)}, nil
	}
	return Resolved{}, fmt.Errorf("%w: %s %s (expected %s)", ErrNotInstalled, service, version, filepath.Join(dir, fam.BinaryName()))
}

// DeleteVersion removes an installed version tree.
func (m *Manager) DeleteVersion(service, version string) error {
	if version == LegacyVersion && m.hasLegacyFlat(service) {
		return os.Remove(m.serviceDir(service))
	}
	dir := m.VersionDir(service, version)
	if _, err := os.Lstat(dir); err != nil {
		return fmt.Errorf("%w: %s %s", ErrNotInstalled, service, version)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	m.log.Info("binary version removed", logger.String("service", service), logger.String("version", version))
	return nil
}

// MigrateLegacy moves a flat bin/{service} binary into
// bin/{service}/legacy/{binaryName}. It reports whether anything moved.
func (m *Manager) MigrateLegacy(service string) (bool, error) {
	if !m.hasLegacyFlat(service) {
		return false, nil
	}
	fam, err := services.Lookup(serviceType(service))
	if err != nil {
		return false, err
	}

	flat := m.serviceDir(service)
	parked := filepath.Join(m.binDir, stagingDir, service+".legacy")
	if err := os.MkdirAll(filepath.Dir(parked), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(flat, parked); err != nil {
		return false, fmt.Errorf("failed to move legacy binary aside: %w", err)
	}

	dst := filepath.Join(m.VersionDir(service, LegacyVersion), fam.BinaryName())
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Rename(parked, flat)
		return false, err
	}
	if err := os.Rename(parked, dst); err != nil {
		_ = os.Rename(parked, flat)
		return false, fmt.Errorf("failed to migrate legacy binary: %w", err)
	}

	m.log.Info("migrated legacy binary layout",
		logger.String("service", service),
		logger.String("path", dst))
	return true, nil
}

// SortVersions orders versions newest first. Strings that are not semver
// sort after semver ones, in reverse lexical order.
func SortVersions(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := canonical(vs[i]), canonical(vs[j])
		if c := semver.Compare(a, b); c != 0 {
			return c > 0
		}
		return vs[i] > vs[j]
	})
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func serviceType(s string) domain.ServiceType { return domain.ServiceType(s) }

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
