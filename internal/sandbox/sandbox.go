// Package sandbox confines file operations to a single allowed root
// directory.
//
// Every guarded operation resolves the requested path to an absolute,
// symlink-free form before comparing it with the equally resolved root,
// and performs no filesystem access when the comparison fails. The path
// that passed the check is the path that gets opened, so a request like
// root/link/../x cannot be checked as one file and opened as another.
//
// Containment is decided with a separator-anchored prefix: a root of
// /a/b contains /a/b and /a/b/c but not /a/b2.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"
)

// Sandbox holds the allowed root and gates file access against it. It is
// safe for concurrent use; the root may be changed at runtime.
type Sandbox struct {
	mu     sync.RWMutex
	root   string
	logger *slog.Logger
}

// New creates a Sandbox rooted at root, which must be an existing
// directory.
func New(root string, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved, err := resolveRoot(root, "")
	if err != nil {
		return nil, err
	}
	return &Sandbox{root: resolved, logger: logger}, nil
}

// Root returns the current allowed root in resolved form.
func (s *Sandbox) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// SetRoot changes the allowed root. A relative dir is taken relative to
// the current root. The new root is validated before the change takes
// effect; on error the previous root stays in place.
func (s *Sandbox) SetRoot(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved, err := resolveRoot(dir, s.root)
	if err != nil {
		return err
	}
	s.logger.Info("allowed root changed", "from", s.root, "to", resolved)
	s.root = resolved
	return nil
}

// Allowed reports whether path lies within the current root.
func (s *Sandbox) Allowed(path string) bool {
	return Contains(path, s.Root())
}

// Contains reports whether requested, once resolved, equals root or lies
// beneath it. requested need not exist; root must. A relative requested
// path is anchored at root. It never touches the filesystem beyond
// lstat and symlink resolution.
func Contains(requested, root string) bool {
	resolvedRoot, err := resolveRoot(root, "")
	if err != nil {
		return false
	}
	resolved, err := resolvePath(requested, resolvedRoot)
	if err != nil {
		return false
	}
	return within(resolved, resolvedRoot)
}

// guard resolves path against the current root and returns the resolved
// form, or a *ViolationError.
func (s *Sandbox) guard(op, path string) (string, error) {
	root := s.Root()
	resolved, err := resolvePath(path, root)
	if err == nil && within(resolved, root) {
		return resolved, nil
	}

	s.logger.Error("sandbox violation",
		"op", op,
		"path", path,
		"resolved", resolved,
		"root", root,
	)
	return "", &ViolationError{Path: path, Root: root}
}

func within(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// resolveRoot resolves dir strictly: it must exist and be a directory.
func resolveRoot(dir, base string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRoot)
	}
	resolved, err := resolvePath(dir, base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrInvalidRoot, dir)
	}
	return resolved, nil
}

// maxLinks bounds the symlinks followed while resolving one path.
const maxLinks = 255

// resolvePath resolves p without requiring it to exist. Components are
// walked left to right: each existing symlink is replaced by its target
// before the next component is looked at, so ".." always applies to the
// parent the OS would see. Missing components are kept as plain names,
// which lets a dangling link resolve to wherever its target would be
// created.
func resolvePath(p, base string) (string, error) {
	abs, err := absolute(p, base)
	if err != nil {
		return "", err
	}

	sep := string(filepath.Separator)
	vol := filepath.VolumeName(abs)
	resolved := vol + sep
	pending := splitPath(abs[len(vol):])
	links := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		switch name {
		case ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
			resolved = next
			continue
		case err != nil:
			return "", err
		case info.Mode()&fs.ModeSymlink == 0:
			resolved = next
			continue
		}

		links++
		if links > maxLinks {
			return "", fmt.Errorf("resolve %s: too many levels of symbolic links", p)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		if v := filepath.VolumeName(target); v != "" || (target != "" && os.IsPathSeparator(target[0])) {
			if v == "" {
				v = vol
			}
			resolved = v + sep
			target = target[len(filepath.VolumeName(target)):]
		}
		pending = append(splitPath(target), pending...)
	}
	return resolved, nil
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool {
		return r < utf8.RuneSelf && os.IsPathSeparator(uint8(r))
	})
}

// absolute expands a leading ~ and anchors relative paths at base (or
// the process working directory when base is empty). It does not clean:
// ".." has to be applied after the components before it are resolved.
func absolute(p, base string) (string, error) {
	sep := string(filepath.Separator)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = home + sep + p[1:]
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		base = wd
	}
	return base + sep + p, nil
}
