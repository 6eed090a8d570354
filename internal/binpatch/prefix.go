// Package binpatch rewrites paths embedded in installed native binaries.
//
// Both operations here are in-place edits of files that were relocated
// after linking. They are invoked only by the binary installer.
package binpatch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrReplacementTooLong = errors.New("replacement longer than original")

// RewritePrefix replaces from with to at the start of every NUL-terminated
// string in data containing from. The rewritten string keeps its original
// length: the tail is shifted left and the freed bytes become NULs. It
// returns the number of strings rewritten.
//
// Nothing is modified when any occurrence would not fit.
func RewritePrefix(data, from, to []byte) (int, error) {
	if len(from) == 0 {
		return 0, errors.New("empty search prefix")
	}
	if bytes.IndexByte(from, 0) >= 0 {
		return 0, fmt.Errorf("search prefix %q contains a NUL byte", from)
	}
	if len(to) > len(from) {
		return 0, fmt.Errorf("%w: %q (%d bytes) > %q (%d bytes)", ErrReplacementTooLong, to, len(to), from, len(from))
	}

	type span struct{ start, end int }
	var spans []span
	for off := 0; off < len(data); {
		i := bytes.Index(data[off:], from)
		if i < 0 {
			break
		}
		start := off + i
		end := bytes.IndexByte(data[start:], 0)
		if end < 0 {
			end = len(data)
		} else {
			end += start
		}
		spans = append(spans, span{start, end})
		off = end
	}

	for _, s := range spans {
		tail := append([]byte(nil), data[s.start+len(from):s.end]...)
		n := copy(data[s.start:], to)
		n += copy(data[s.start+n:], tail)
		for k := s.start + n; k < s.end; k++ {
			data[k] = 0
		}
	}
	return len(spans), nil
}

// RewriteFile applies RewritePrefix to a file. The file is replaced
// atomically and keeps its mode; it is left untouched when nothing matched.
func RewriteFile(path, from, to string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	n, err := RewritePrefix(data, []byte(from), []byte(to))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if n == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".patch-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Chmod(tmpName, fi.Mode().Perm()); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}
