// Package security guards the file names muontrack derives from event
// input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WithinDirectory returns an error unless path resolves inside dir.
// Symlinks are resolved on the longest existing prefix of path, so a link
// inside dir that points elsewhere is rejected even when the target file
// does not exist yet.
func WithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	realPath := absPath
	for p := absPath; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			rest, _ := filepath.Rel(p, absPath)
			realPath = filepath.Join(resolved, rest)
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	rel, err := filepath.Rel(realDir, realPath)
	if err != nil {
		return fmt.Errorf("path %s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// SanitizeFilename maps an event ID onto a safe file name stem. Runs of
// characters outside [A-Za-z0-9.-] become one underscore and leading or
// trailing dots and underscores are trimmed. The result is capped at 128
// bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// Join sanitizes name and joins it to dir, failing if the result would
// leave dir.
func Join(dir, name string) (string, error) {
	p := filepath.Join(dir, SanitizeFilename(name))
	if err := WithinDirectory(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
