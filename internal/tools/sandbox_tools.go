package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/sagaforge/internal/sandbox"
)

// Files is the sandboxed filesystem the file tools operate on.
type Files interface {
	Root() string
	Read(path string, binary bool) ([]byte, error)
	Write(path string, content []byte, mode sandbox.WriteMode) error
	List(dir string) ([]string, error)
	Glob(dir, pattern string) ([]string, bool, error)
}

// maxReadBytes caps text returned by read_file.
const maxReadBytes = 50 * 1024

// RegisterFileTools adds the sandboxed file tools.
func RegisterFileTools(r *Registry, files Files) {
	ft := &fileTools{files: files}

	r.Register(&Tool{
		Name: "read_file",
		Description: "Read a file inside the current directory. Use read_type 'r' for text (default) " +
			"or 'rb' for binary, which is returned base64-encoded.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Path of the file, absolute or relative to the current directory",
				},
				"read_type": map[string]any{
					"type":        "string",
					"enum":        []string{"r", "rb"},
					"description": "'r' for text, 'rb' for binary",
				},
			},
			"required": []string{"filename"},
		},
		Handler: ft.read,
	})

	r.Register(&Tool{
		Name: "write_file",
		Description: "Write text to a file inside the current directory. write_type 'w' or 'wt' " +
			"truncates (default), 'a' appends, 'x' creates and fails if the file exists.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Path of the file, absolute or relative to the current directory",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "Content to write",
				},
				"write_type": map[string]any{
					"type":        "string",
					"enum":        []string{"w", "wt", "a", "x"},
					"description": "Write mode",
				},
			},
			"required": []string{"filename"},
		},
		Handler: ft.write,
	})

	r.Register(&Tool{
		Name:        "list_files_in_dir",
		Description: "List the entries of a directory inside the current directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dir": map[string]any{
					"type":        "string",
					"description": "Directory to list. Defaults to the current directory.",
				},
			},
		},
		Handler: ft.list,
	})

	r.Register(&Tool{
		Name:        "get_current_dir",
		Description: "Return the current directory. All file tools are restricted to it.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			return files.Root(), nil
		},
	})

	r.Register(&Tool{
		Name: "glob_files",
		Description: fmt.Sprintf("Find files by glob pattern (supports **) inside the current directory. "+
			"Returns at most %d paths relative to the current directory, newest first.", sandbox.GlobLimit),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern such as '**/*.go' or 'docs/*.md'",
				},
				"dir": map[string]any{
					"type":        "string",
					"description": "Directory to search from. Defaults to the current directory.",
				},
			},
			"required": []string{"pattern"},
		},
		Handler: ft.glob,
	})
}

type fileTools struct {
	files Files
}

func (ft *fileTools) read(_ context.Context, args map[string]any) (string, error) {
	name := argString(args, "filename", "")
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	binary := argString(args, "read_type", "r") == "rb"

	data, err := ft.files.Read(name, binary)
	if err != nil {
		return "", toolFileError(name, err)
	}
	if binary {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated ...]"
	}
	return content, nil
}

func (ft *fileTools) write(_ context.Context, args map[string]any) (string, error) {
	name := argString(args, "filename", "")
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	mode, err := sandbox.ParseWriteMode(argString(args, "write_type", "wt"))
	if err != nil {
		return "", err
	}
	value, _ := args["value"].(string)

	if err := ft.files.Write(name, []byte(value), mode); err != nil {
		return "", toolFileError(name, err)
	}
	return fmt.Sprintf("File '%s' written with mode '%s'.", name, mode), nil
}

func (ft *fileTools) list(_ context.Context, args map[string]any) (string, error) {
	dir := argString(args, "dir", ft.files.Root())
	names, err := ft.files.List(dir)
	if err != nil {
		return "", toolFileError(dir, err)
	}
	if len(names) == 0 {
		return fmt.Sprintf("%s is empty.", dir), nil
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (ft *fileTools) glob(_ context.Context, args map[string]any) (string, error) {
	pattern := argString(args, "pattern", "")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	dir := argString(args, "dir", ft.files.Root())

	files, truncated, err := ft.files.Glob(dir, pattern)
	if err != nil {
		return "", toolFileError(dir, err)
	}
	if len(files) == 0 {
		return "No files found.", nil
	}
	out := strings.Join(files, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n[results truncated at %d files; use a more specific pattern]", sandbox.GlobLimit)
	}
	return out, nil
}

// toolFileError turns sandbox errors into messages the model can act on.
func toolFileError(path string, err error) error {
	switch {
	case errors.Is(err, sandbox.ErrSandboxViolation):
		return errors.New("cannot access files that are not in the current directory")
	case errors.Is(err, sandbox.ErrNotAFile):
		return fmt.Errorf("%s is not a file. Have you created it?", path)
	case errors.Is(err, sandbox.ErrAlreadyExists):
		return fmt.Errorf("%s already exists; use write_type 'w' to overwrite or 'a' to append", path)
	}
	return err
}
