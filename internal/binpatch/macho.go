package binpatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/execx"
)

// LoadPaths returns the shared-library load paths recorded in a Mach-O file,
// as reported by otool -L.
func LoadPaths(ctx context.Context, r execx.Runner, file string) ([]string, error) {
	out, err := r.Run(ctx, "otool", "-L", file)
	if err != nil {
		return nil, err
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			// "<file>:" header
			first = false
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, " ("); i >= 0 {
			line = line[:i]
		}
		paths = append(paths, line)
	}
	return paths, sc.Err()
}

// FixLoadPaths rewrites every load path of file containing from, e.g.
// "@executable_path/../lib/" to "@executable_path/lib/" after a bundle's
// bin/ directory has been flattened. Returns the number of paths changed.
func FixLoadPaths(ctx context.Context, r execx.Runner, file, from, to string) (int, error) {
	paths, err := LoadPaths(ctx, r, file)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range paths {
		if !strings.Contains(p, from) {
			continue
		}
		next := strings.Replace(p, from, to, 1)
		if _, err := r.Run(ctx, "install_name_tool", "-change", p, next, file); err != nil {
			return n, fmt.Errorf("failed to rewrite %s in %s: %w", p, file, err)
		}
		n++
	}
	return n, nil
}

// AdHocSign re-signs a patched file. Any edit invalidates the existing
// signature and arm64 macOS refuses to run unsigned code.
func AdHocSign(ctx context.Context, r execx.Runner, file string) error {
	if _, err := r.Run(ctx, "codesign", "--force", "--sign", "-", file); err != nil {
		return fmt.Errorf("failed to sign %s: %w", file, err)
	}
	return nil
}
