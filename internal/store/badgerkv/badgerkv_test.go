package badgerkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oproxy/internal/store"
)

func openTest(t *testing.T) *Backend {
	t.Helper()
	b, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(DefaultConfig())
	require.Error(t, err)
}

func TestBackend_SaveLoadDelete(t *testing.T) {
	b := openTest(t)
	ctx := context.Background()

	_, ok, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Save(ctx, "k", []byte("v")))
	v, ok, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	require.NoError(t, b.Delete(ctx, "k"))
	_, ok, err = b.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false

	b, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, "tree", []byte(`{"version":2}`)))
	require.NoError(t, b.Close())

	b, err = Open(cfg)
	require.NoError(t, err)
	defer b.Close()
	v, ok, err := b.Load(ctx, "tree")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"version":2}`, string(v))
}

func TestBackend_History(t *testing.T) {
	b := openTest(t)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, "k", []byte("1")))
	require.NoError(t, b.Save(ctx, "k", []byte("2")))
	require.NoError(t, b.Save(ctx, "k", []byte("3")))

	h, err := b.History(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, h)
}

func TestBackend_WithMap(t *testing.T) {
	b := openTest(t)
	ctx := context.Background()
	m := store.New(b, store.WithDefault("tree", []byte("{}")))

	require.NoError(t, m.Set(ctx, "tree", []byte(`{"a":1}`)))
	require.NoError(t, m.RestoreDefault(ctx, "tree"))
	v, ok, err := m.Get(ctx, "tree")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{}", string(v))
}
