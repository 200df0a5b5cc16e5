package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shoutLib = `
func "shout" {
  result = upper(args[0])
}
`

// workspace is a resource root plus a config file pointing a SQLite store
// into the same temp dir.
type workspace struct {
	root   string
	config string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "res")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))

	files := map[string]string{
		"notes.txt":   "notes",
		"todo.txt":    "todo",
		"lib/str.hcl": shoutLib,
	}
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(text), 0o644))
	}

	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
store:
  backend: sqlite
  path: `+filepath.Join(dir, "state", "store.db")+`
resources:
  root: `+root+`
log:
  level: error
`), 0o644))

	return &workspace{root: root, config: cfg}
}

func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", w.config}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func (w *workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (w *workspace) jsonData(t *testing.T, args ...string) any {
	t.Helper()
	out := w.mustRun(t, append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func childNames(t *testing.T, outline any) []string {
	t.Helper()
	m, ok := outline.(map[string]any)
	require.True(t, ok)
	children, _ := m["children"].([]any)
	var names []string
	for _, ch := range children {
		names = append(names, ch.(map[string]any)["name"].(string))
	}
	return names
}

func TestCommands_AddExtendCall(t *testing.T) {
	w := newWorkspace(t)

	out := w.mustRun(t, "add", "docs", "notes.txt", "todo.txt")
	assert.Equal(t, "path: docs\nkind: container\n", out)

	out = w.mustRun(t, "extend", "docs", "--source", "lib/str.hcl", "--func", "shout")
	assert.Contains(t, out, "path: docs.shout")
	assert.Contains(t, out, "kind: extension")

	// Every command reopens the tree from the store.
	out = w.mustRun(t, "call", "docs", "shout", "--args", "[hey]")
	assert.Equal(t, "HEY\n", out)

	tree := w.jsonData(t, "tree", "docs")
	assert.Equal(t, []string{"notes", "todo"}, childNames(t, tree))
	exts := tree.(map[string]any)["extensions"].([]any)
	require.Len(t, exts, 1)
	assert.Equal(t, "shout", exts[0].(map[string]any)["name"])

	text := w.mustRun(t, "tree")
	assert.Contains(t, text, "docs")
	assert.Contains(t, text, "notes")
}

func TestCommands_Storage(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt")

	data := w.jsonData(t, "storage", "--at", "docs", "resources")
	m, ok := data.(map[string]any)
	require.True(t, ok)
	require.Contains(t, m, "resources")
	assert.NotContains(t, m, "children")

	res := m["resources"].(map[string]any)
	notes := res["notes"].(map[string]any)
	assert.Equal(t, "notes.txt", notes["locator"])
	assert.NotEmpty(t, notes["handle"])
}

func TestCommands_RenameSurvivesReopen(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt", "todo.txt")

	require.NoError(t, os.Rename(filepath.Join(w.root, "notes.txt"), filepath.Join(w.root, "memo.txt")))
	require.NoError(t, os.Remove(filepath.Join(w.root, "todo.txt")))

	tree := w.jsonData(t, "tree", "docs")
	assert.Equal(t, []string{"memo"}, childNames(t, tree))

	// Opening already reconciled and wrote the corrections back.
	data := w.jsonData(t, "reconcile")
	m := data.(map[string]any)
	assert.EqualValues(t, 0, m["renamed"])
	assert.EqualValues(t, 0, m["dropped"])
}

func TestCommands_RemoveAndClear(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt", "todo.txt")
	w.mustRun(t, "add", "--at", "docs", "more", "lib/str.hcl")

	removed := w.jsonData(t, "remove", "docs.todo", "docs.more")
	assert.Equal(t, []any{
		map[string]any{"path": "docs.todo", "kind": "resource"},
		map[string]any{"path": "docs.more", "kind": "container"},
	}, removed)

	tree := w.jsonData(t, "tree", "docs")
	assert.Equal(t, []string{"notes"}, childNames(t, tree))

	_, err := w.run(t, "clear")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	assert.Equal(t, "cleared\n", w.mustRun(t, "clear", "--yes"))
	tree = w.jsonData(t, "tree")
	assert.Empty(t, childNames(t, tree))
}

func TestCommands_ProxyErrorCodes(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unresolvable locator", []string{"add", "more", "missing.txt"}, "RESOLUTION"},
		{"reserved name", []string{"add", "storage", "todo.txt"}, "VALIDATION"},
		{"unknown node", []string{"call", "nope", "shout"}, "NOT_FOUND"},
		{"unknown symbol", []string{"extend", "docs", "--source", "lib/str.hcl", "--func", "whisper"}, "EXTRACTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := w.run(t, append([]string{"--format", "json"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCommands_InvalidArgs(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "call", "", "shout", "--args", "{not: a list}")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --args")
}

func TestCommands_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("store:\n  backend: postgres\n"), 0o644))

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "tree"})
	err := cmd.ExecuteContext(t.Context())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("")
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = parseArgs(`[1, "two", true, {k: v}, [3]]`)
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two", true, map[string]any{"k": "v"}, []any{3}}, args)

	_, err = parseArgs("scalar")
	assert.Error(t, err)
}

func TestCommands_WatchStopsOnCancel(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt")

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", w.config, "watch"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Watching for changes")
}

func TestCommands_History(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "add", "docs", "notes.txt")
	w.mustRun(t, "extend", "docs", "--source", "lib/str.hcl", "--func", "shout")

	data := w.jsonData(t, "history")
	entries, ok := data.([]any)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(entries), 2)

	first := entries[0].(map[string]any)
	last := entries[len(entries)-1].(map[string]any)
	assert.Equal(t, true, last["current"])
	assert.Nil(t, first["current"])
	assert.EqualValues(t, 2, last["format"])
	assert.Len(t, last["digest"], 64)
	assert.NotEqual(t, first["digest"], last["digest"])

	text := w.mustRun(t, "history")
	assert.Contains(t, text, "*")
}
