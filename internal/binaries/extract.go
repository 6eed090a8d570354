package binaries

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/binpatch"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
)

const (
	bundleLoadPathFrom = "@executable_path/../lib/"
	bundleLoadPathTo   = "@executable_path/lib/"
)

// install unpacks the staged payload into a scratch directory, lays it out
// as either a single binary or a bundle, patches it, and swaps it into
// bin/{service}/{version}. It returns the final directory.
func (m *Manager) install(ctx context.Context, service, version, binaryName, payload, url string, src services.Source) (string, error) {
	scratch, err := os.MkdirTemp(filepath.Join(m.binDir, stagingDir), service+"-"+version+"-x-")
	if err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	unpacked := filepath.Join(scratch, "unpacked")
	layout := filepath.Join(scratch, "layout")
	for _, d := range []string{unpacked, layout} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", err
		}
	}

	switch archiveSuffix(url) {
	case ".tar.gz", ".tgz":
		err = extractTarGz(payload, unpacked)
	case ".zip":
		_, err = m.runner.Run(ctx, "unzip", "-q", "-o", payload, "-d", unpacked)
	default:
		err = copyFile(payload, filepath.Join(unpacked, binaryName), 0o755)
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract %s %s: %w", service, version, err)
	}

	final := m.VersionDir(service, version)

	bundle, err := findBundleRoot(unpacked)
	if err != nil {
		return "", err
	}
	if bundle != "" {
		if err := layoutBundle(bundle, layout, binaryName); err != nil {
			return "", err
		}
		if m.goos == "darwin" {
			if err := m.relinkBundle(ctx, layout, binaryName); err != nil {
				return "", err
			}
		}
	} else {
		bin, err := findFile(unpacked, binaryName)
		if err != nil {
			return "", err
		}
		if err := os.Rename(bin, filepath.Join(layout, binaryName)); err != nil {
			return "", err
		}
		if err := os.Chmod(filepath.Join(layout, binaryName), 0o755); err != nil {
			return "", err
		}
	}

	if err := m.applyPrefixPatches(ctx, layout, final, src.PrefixPatches); err != nil {
		return "", err
	}

	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", final, err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(layout, final); err != nil {
		return "", fmt.Errorf("failed to install into %s: %w", final, err)
	}

	m.log.Info("binary installed",
		logger.String("service", service),
		logger.String("version", version),
		logger.Bool("bundle", bundle != ""),
		logger.String("path", final))
	return final, nil
}

// findBundleRoot returns the directory holding a lib/ with shared libraries,
// or "" when the payload is a plain binary.
func findBundleRoot(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || d.Name() != "lib" {
			return nil
		}
		if hasSharedLibs(p) {
			found = filepath.Dir(p)
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}

func hasSharedLibs(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if isSharedLib(e.Name()) {
			return true
		}
	}
	return false
}

func isSharedLib(name string) bool {
	return strings.HasSuffix(name, ".dylib") || strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.")
}

// layoutBundle keeps bin/, lib/ and share/ and copies the main executable
// to the root of dst.
func layoutBundle(root, dst, binaryName string) error {
	for _, sub := range []string{"bin", "lib", "share"} {
		from := filepath.Join(root, sub)
		if !exists(from) {
			continue
		}
		if err := os.Rename(from, filepath.Join(dst, sub)); err != nil {
			return fmt.Errorf("failed to move %s: %w", sub, err)
		}
	}

	main := filepath.Join(dst, "bin", binaryName)
	if !exists(main) {
		var err error
		if main, err = findFile(root, binaryName); err != nil {
			return err
		}
	}
	return copyFile(main, filepath.Join(dst, binaryName), 0o755)
}

// relinkBundle rewrites ../lib load paths of the root executable and every
// shared library, then re-signs whatever changed.
func (m *Manager) relinkBundle(ctx context.Context, dir, binaryName string) error {
	targets := []string{filepath.Join(dir, binaryName)}
	libs, _ := os.ReadDir(filepath.Join(dir, "lib"))
	for _, e := range libs {
		if e.Type().IsRegular() && isSharedLib(e.Name()) {
			targets = append(targets, filepath.Join(dir, "lib", e.Name()))
		}
	}

	for _, t := range targets {
		n, err := binpatch.FixLoadPaths(ctx, m.runner, t, bundleLoadPathFrom, bundleLoadPathTo)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := binpatch.AdHocSign(ctx, m.runner, t); err != nil {
			return err
		}
		m.log.Debug("relinked bundle file", logger.String("file", t), logger.Int("paths", n))
	}
	return nil
}

func (m *Manager) applyPrefixPatches(ctx context.Context, dir, final string, patches []services.PrefixPatch) error {
	for _, p := range patches {
		to := strings.ReplaceAll(p.To, "{install_dir}", final)
		for _, rel := range p.Files {
			file := filepath.Join(dir, filepath.FromSlash(rel))
			n, err := binpatch.RewriteFile(file, p.From, to)
			if err != nil {
				return fmt.Errorf("failed to patch %s: %w", rel, err)
			}
			if n > 0 && m.goos == "darwin" {
				if err := binpatch.AdHocSign(ctx, m.runner, file); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func findFile(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s not found in archive", ErrNotInstalled, name)
	}
	return found, nil
}

// extractTarGz unpacks a gzip-compressed tarball into dst, refusing entries
// or symlinks that would land outside it.
func extractTarGz(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := within(dst, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()|0o600); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("tar entry %s: absolute symlink %s", hdr.Name, hdr.Linkname)
			}
			if _, err := within(dst, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// hard links, devices and fifos are not expected in release archives
		}
	}
}

func within(root, name string) (string, error) {
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

func writeFile(p string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	if err := writeFile(dst, in, mode); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}
