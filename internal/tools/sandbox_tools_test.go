package tools

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/sagaforge/internal/sandbox"
)

func setupFileTools(t *testing.T) (string, *Registry) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sb, err := sandbox.New(root, quietLogger())
	require.NoError(t, err)

	r := NewRegistry(nil, quietLogger())
	RegisterFileTools(r, sb)
	return root, r
}

func TestFileTools_WriteReadList(t *testing.T) {
	root, r := setupFileTools(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "write_file", `{"filename":"notes.txt","value":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, "File 'notes.txt' written with mode 'truncate'.", out)

	_, err = r.Execute(ctx, "write_file", `{"filename":"notes.txt","value":" world","write_type":"a"}`)
	require.NoError(t, err)

	out, err = r.Execute(ctx, "read_file", `{"filename":"notes.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = r.Execute(ctx, "read_file", `{"filename":"notes.txt","read_type":"rb"}`)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello world")), out)

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	out, err = r.Execute(ctx, "list_files_in_dir", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\nsub", out)

	out, err = r.Execute(ctx, "get_current_dir", "")
	require.NoError(t, err)
	assert.Equal(t, root, out)
}

func TestFileTools_Errors(t *testing.T) {
	root, r := setupFileTools(t)
	ctx := context.Background()
	outside := filepath.Join(filepath.Dir(root), "escape.txt")

	_, err := r.Execute(ctx, "write_file", `{"filename":"`+outside+`","value":"x"}`)
	require.Error(t, err)
	assert.Equal(t, "cannot access files that are not in the current directory", err.Error())
	assert.NoFileExists(t, outside)

	_, err = r.Execute(ctx, "read_file", `{"filename":"../../etc/passwd"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the current directory")

	_, err = r.Execute(ctx, "read_file", `{"filename":"missing.txt"}`)
	require.Error(t, err)
	assert.Equal(t, "missing.txt is not a file. Have you created it?", err.Error())

	_, err = r.Execute(ctx, "write_file", `{"filename":"once.txt","value":"1","write_type":"x"}`)
	require.NoError(t, err)
	_, err = r.Execute(ctx, "write_file", `{"filename":"once.txt","value":"2","write_type":"x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = r.Execute(ctx, "write_file", `{"filename":"f.txt","write_type":"rw"}`)
	require.Error(t, err)

	_, err = r.Execute(ctx, "read_file", `{}`)
	require.Error(t, err)
}

func TestFileTools_Glob(t *testing.T) {
	root, r := setupFileTools(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "deep"), 0o755))
	for _, f := range []string{"main.go", "pkg/a.go", "pkg/deep/b.go", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte("x"), 0o644))
	}

	out, err := r.Execute(context.Background(), "glob_files", `{"pattern":"**/*.go"}`)
	require.NoError(t, err)
	got := strings.Split(out, "\n")
	assert.ElementsMatch(t, []string{"main.go", "pkg/a.go", "pkg/deep/b.go"}, got)

	out, err = r.Execute(context.Background(), "glob_files", `{"pattern":"*.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "No files found.", out)
}
