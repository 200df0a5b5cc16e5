package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults_Valid(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, slog.LevelInfo, d.Log.SlogLevel())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: badger
  path: /tmp/oproxy
  key: tree
extensions:
  max_depth: 4
  cache_ttl: 30s
log:
  level: debug
  format: json
metrics:
  addr: localhost:9090
watch:
  debounce: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "/tmp/oproxy", cfg.Store.Path)
	assert.Equal(t, "tree", cfg.Store.Key)
	assert.Equal(t, ".", cfg.Resources.Root, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Extensions.MaxDepth)
	assert.Equal(t, 30*time.Second, cfg.Extensions.CacheTTL)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "localhost:9090", cfg.Metrics.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  key: fromfile\n")
	t.Setenv("OPROXY_STORE_KEY", "fromenv")
	t.Setenv("OPROXY_EXTENSIONS_MAX_DEPTH", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Store.Key)
	assert.Equal(t, 3, cfg.Extensions.MaxDepth)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"backend", "store:\n  backend: mongo\n", "Backend"},
		{"depth", "extensions:\n  max_depth: 0\n", "MaxDepth"},
		{"level", "log:\n  level: loud\n", "Level"},
		{"format", "log:\n  format: xml\n", "Format"},
		{"metrics addr", "metrics:\n  addr: not an address\n", "Addr"},
		{"path", "store:\n  backend: sqlite\n  path: \"\"\n", "Path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = BackendMemory
	cfg.Store.Path = ""
	assert.NoError(t, cfg.Validate())
}
