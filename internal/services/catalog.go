package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyGitHub   Strategy = "github"
	StrategyHomebrew Strategy = "homebrew"
	StrategyVirtual  Strategy = "virtual"
)

type VersionEntry struct {
	Version string `yaml:"version"`
	Label   string `yaml:"label,omitempty"`
}

// PrefixPatch rewrites an install prefix baked into a binary. To may use
// {install_dir}.
type PrefixPatch struct {
	From  string   `yaml:"from"`
	To    string   `yaml:"to"`
	Files []string `yaml:"files"` // relative to the version directory
}

// Source is how one family's binaries are obtained.
type Source struct {
	Strategy  Strategy          `yaml:"strategy"`
	URL       string            `yaml:"url,omitempty"`
	Repo      string            `yaml:"repo,omitempty"`
	TagPrefix string            `yaml:"tag_prefix,omitempty"`
	Assets    map[string]string `yaml:"assets,omitempty"`
	Formula   string            `yaml:"formula,omitempty"`
	Package   string            `yaml:"package,omitempty"`
	Versions  []VersionEntry    `yaml:"versions,omitempty"`

	// version -> platform -> sha256 hex
	Checksums map[string]map[string]string `yaml:"checksums,omitempty"`

	PrefixPatches []PrefixPatch `yaml:"prefix_patches,omitempty"`
}

type Catalog struct {
	Services map[domain.ServiceType]Source `yaml:"services"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalog)
}

// LoadCatalog returns the embedded catalog with entries from the override
// file replacing whole services. An empty path or missing file is not an error.
func LoadCatalog(overridePath string) (*Catalog, error) {
	c, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if overridePath == "" {
		return c, nil
	}
	raw, err := os.ReadFile(overridePath)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog override: %w", err)
	}
	over, err := parseCatalog(raw)
	if err != nil {
		return nil, err
	}
	for t, src := range over.Services {
		c.Services[t] = src
	}
	return c, nil
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Services == nil {
		c.Services = map[domain.ServiceType]Source{}
	}
	for t, src := range c.Services {
		switch src.Strategy {
		case StrategyDirect:
			if src.URL == "" {
				return nil, fmt.Errorf("catalog: %s: direct strategy needs url", t)
			}
		case StrategyGitHub:
			if src.Repo == "" || len(src.Assets) == 0 {
				return nil, fmt.Errorf("catalog: %s: github strategy needs repo and assets", t)
			}
		case StrategyHomebrew:
			if src.Formula == "" {
				return nil, fmt.Errorf("catalog: %s: homebrew strategy needs formula", t)
			}
		case StrategyVirtual:
		default:
			return nil, fmt.Errorf("catalog: %s: unknown strategy %q", t, src.Strategy)
		}
	}
	return &c, nil
}

func (c *Catalog) Source(t domain.ServiceType) (Source, error) {
	src, ok := c.Services[t]
	if !ok {
		return Source{}, fmt.Errorf("no download source for %s", t)
	}
	return src, nil
}

// Platform is the "{os}-{arch}" key used by assets and checksums.
func Platform(goos, goarch string) string {
	return goos + "-" + goarch
}

// Expand fills a url or asset template.
func Expand(tmpl, version, goos, goarch string) string {
	r := strings.NewReplacer("{version}", version, "{os}", goos, "{arch}", goarch)
	return r.Replace(tmpl)
}

// Checksum returns the declared sha256 for a version/platform, or "".
func (s Source) Checksum(version, platform string) string {
	return s.Checksums[version][platform]
}
