package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/sagaforge/examples"
)

// runInit prepares a Sagaforge working directory: the data directory, a
// commented config.yaml, and a .env for secrets. Existing files are
// never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Sagaforge workspace in %s\n", dir)

	for _, sub := range []string{"db", "logs"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// Both files may hold credentials.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, ".env"), examples.DotEnv, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set TAVILY_API_KEY in .env to enable web search, then run: sagaforge serve")
	return nil
}

// writeIfMissing writes content to path with perm unless the file
// already exists, reporting which happened on w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
