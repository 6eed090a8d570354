package binaries

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/tidwall/gjson"
)

// installHomebrew installs the formula when missing and links its binary
// into bin/{service}/{version}. Nothing is copied, so a brew upgrade needs
// another install to relink.
func (m *Manager) installHomebrew(ctx context.Context, service string, fam services.Family, src services.Source) (*domain.BinaryInfo, error) {
	brew, err := m.runner.LookPath(m.brewBin)
	if err != nil {
		return nil, ErrHomebrewMissing
	}

	if _, err := m.runner.Run(ctx, brew, "list", "--versions", src.Formula); err != nil {
		m.log.Info("installing homebrew formula", logger.String("formula", src.Formula))
		if _, err := m.runner.Run(ctx, brew, "install", src.Formula); err != nil {
			return nil, fmt.Errorf("brew install %s: %w", src.Formula, err)
		}
	}

	out, err := m.runner.Run(ctx, brew, "--prefix", src.Formula)
	if err != nil {
		return nil, fmt.Errorf("brew --prefix %s: %w", src.Formula, err)
	}
	prefix := strings.TrimSpace(string(out))

	info, err := m.runner.Run(ctx, brew, "info", "--json=v2", src.Formula)
	if err != nil {
		return nil, fmt.Errorf("brew info %s: %w", src.Formula, err)
	}
	version := gjson.GetBytes(info, "formulae.0.installed.0.version").String()
	if version == "" {
		version = gjson.GetBytes(info, "formulae.0.versions.stable").String()
	}
	if version == "" {
		return nil, fmt.Errorf("brew info %s: no version reported", src.Formula)
	}

	var target string
	for _, sub := range []string{"bin", "sbin"} {
		if p := filepath.Join(prefix, sub, fam.BinaryName()); exists(p) {
			target = p
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("%w: %s not found under %s", ErrNotInstalled, fam.BinaryName(), prefix)
	}

	dir := m.VersionDir(service, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	link := filepath.Join(dir, fam.BinaryName())
	_ = os.Remove(link)
	if err := os.Symlink(target, link); err != nil {
		return nil, fmt.Errorf("failed to link %s: %w", target, err)
	}

	m.log.Info("homebrew binary linked",
		logger.String("service", service),
		logger.String("version", version),
		logger.String("target", target))

	return &domain.BinaryInfo{Version: version, Path: dir, InstalledAt: m.now()}, nil
}

func (m *Manager) brewStableVersion(ctx context.Context, formula string) (string, error) {
	brew, err := m.runner.LookPath(m.brewBin)
	if err != nil {
		return "", ErrHomebrewMissing
	}
	info, err := m.runner.Run(ctx, brew, "info", "--json=v2", formula)
	if err != nil {
		return "", fmt.Errorf("brew info %s: %w", formula, err)
	}
	v := gjson.GetBytes(info, "formulae.0.versions.stable").String()
	if v == "" {
		return "", fmt.Errorf("brew info %s: no stable version", formula)
	}
	return v, nil
}

// installVirtual records a runtime-installed package with a marker file.
func (m *Manager) installVirtual(service, version string, src services.Source) (*domain.BinaryInfo, error) {
	if version == "" {
		version = "latest"
	}
	dir := m.VersionDir(service, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, virtualMarker), []byte(src.Package+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write virtual marker: %w", err)
	}
	return &domain.BinaryInfo{Version: version, Path: dir, InstalledAt: m.now(), Virtual: true}, nil
}
