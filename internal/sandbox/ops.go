package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yargevad/filepathx"
)

// WriteMode selects how Write opens its target.
type WriteMode int

const (
	// ModeTruncate creates the file or replaces its contents.
	ModeTruncate WriteMode = iota
	// ModeAppend creates the file or appends to it.
	ModeAppend
	// ModeExclusive creates the file and fails if it already exists.
	ModeExclusive
)

func (m WriteMode) String() string {
	switch m {
	case ModeTruncate:
		return "truncate"
	case ModeAppend:
		return "append"
	case ModeExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// ParseWriteMode accepts the short open-mode strings ("w", "wt", "a",
// "x") and the long names. An empty string means ModeTruncate.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "w", "wt", "truncate":
		return ModeTruncate, nil
	case "a", "append":
		return ModeAppend, nil
	case "x", "exclusive":
		return ModeExclusive, nil
	}
	return 0, fmt.Errorf("unknown write mode %q (valid: w, a, x)", s)
}

func (m WriteMode) flags() int {
	switch m {
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeExclusive:
		return os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
}

// Write writes content to path in full using mode.
func (s *Sandbox) Write(path string, content []byte, mode WriteMode) error {
	resolved, err := s.guard("write", path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(resolved, mode.flags(), 0o644)
	if err != nil {
		if mode == ModeExclusive && errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
		}
		return &IOError{Op: "open", Path: path, Err: err}
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}

	s.logger.Debug("file written", "path", resolved, "bytes", len(content), "mode", mode)
	return nil
}

// Read returns the full contents of the regular file at path. Unless
// binary is set, the contents must be valid UTF-8.
func (s *Sandbox) Read(path string, binary bool) ([]byte, error) {
	resolved, err := s.guard("read", path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotAFile)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	if !binary && !utf8.Valid(data) {
		return nil, &IOError{Op: "decode", Path: path, Err: errors.New("content is not valid UTF-8 text")}
	}

	s.logger.Debug("file read", "path", resolved, "bytes", len(data), "binary", binary)
	return data, nil
}

// ReadText is Read in text mode.
func (s *Sandbox) ReadText(path string) (string, error) {
	data, err := s.Read(path, false)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns the names of the entries directly inside dir.
func (s *Sandbox) List(dir string) ([]string, error) {
	resolved, err := s.guard("list", dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, &IOError{Op: "list", Path: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// GlobLimit caps the number of files Glob returns.
const GlobLimit = 100

// Glob matches pattern (which may use **) beneath dir and returns the
// regular files found, newest first, as paths relative to the root.
// Matches that resolve outside the root through a symlink are dropped.
// truncated reports whether GlobLimit cut the result short.
func (s *Sandbox) Glob(dir, pattern string) (files []string, truncated bool, err error) {
	resolved, err := s.guard("glob", dir)
	if err != nil {
		return nil, false, err
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || filepath.IsAbs(pattern) {
		return nil, false, fmt.Errorf("glob pattern must be a non-empty relative pattern")
	}
	if _, err := s.guard("glob", filepath.Join(resolved, pattern)); err != nil {
		return nil, false, err
	}

	matches, err := filepathx.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return nil, false, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	root := s.Root()
	type match struct {
		rel   string
		mtime int64
	}
	found := make([]match, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		target, err := resolvePath(m, root)
		if err != nil || !within(target, root) {
			continue
		}
		info, err := os.Stat(target)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if len(found) == GlobLimit {
			truncated = true
			break
		}
		rel, err := filepath.Rel(root, target)
		if err != nil || seen[rel] {
			continue
		}
		seen[rel] = true
		found = append(found, match{rel: rel, mtime: info.ModTime().UnixNano()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].mtime > found[j].mtime })
	files = make([]string, len(found))
	for i, f := range found {
		files[i] = filepath.ToSlash(f.rel)
	}
	return files, truncated, nil
}
