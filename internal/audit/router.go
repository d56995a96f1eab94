package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/quality"
)

// Router files audited images into <dest>/keep, <dest>/review and <dest>/reject.
type Router struct {
	dest string
	move bool
}

// NewRouter creates a router. With move set the source file is removed
// after a successful copy.
func NewRouter(dest string, move bool) *Router {
	return &Router{dest: filepath.Clean(dest), move: move}
}

// Moves reports whether routed files leave their source location.
func (r *Router) Moves() bool {
	return r.move
}

// Owns reports whether dir is one of the router's destination folders, so
// walkers can skip files that were already routed.
func (r *Router) Owns(dir string) bool {
	dir = filepath.Clean(dir)
	for _, d := range []quality.Decision{quality.Keep, quality.Review, quality.Reject} {
		if dir == filepath.Join(r.dest, string(d)) {
			return true
		}
	}
	return false
}

// Route places path into the folder for decision and returns the new path.
// Existing files are never overwritten; a numeric suffix is added instead.
// A destination that already holds the same content is reused, so routing
// the same file again does not create duplicates.
func (r *Router) Route(path string, decision quality.Decision) (string, error) {
	dir := filepath.Join(r.dest, string(decision))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	target, exists, err := placement(dir, filepath.Base(path), database.ContentID(data))
	if err != nil {
		return "", err
	}
	if !exists {
		if err := writeExclusive(target, data); err != nil {
			return "", err
		}
	}
	if r.move {
		if err := os.Remove(path); err != nil {
			return target, fmt.Errorf("copied to %s but failed to remove source: %w", target, err)
		}
	}
	return target, nil
}

// placement returns the first free name for name in dir, or the first
// existing file whose content ID equals id.
func placement(dir, name, id string) (string, bool, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; i < 10000; i++ {
		existing, err := os.ReadFile(candidate)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return candidate, false, nil
		case err != nil:
			return "", false, err
		case database.ContentID(existing) == id:
			return candidate, true, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	return "", false, fmt.Errorf("no free file name for %s in %s", name, dir)
}

func writeExclusive(dst string, data []byte) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
