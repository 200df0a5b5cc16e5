package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oproxy/internal/resource"
)

func TestAdd_CreatesContainerWithLeaves(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	assert.Equal(t, "items", items.Name())
	assert.Equal(t, "items", items.Path())
	assert.False(t, items.IsRoot())
	assert.True(t, items.Parent().IsRoot())
	assert.Equal(t, []string{"a", "b", "c"}, items.Names())
	assert.Equal(t, 3, items.Len())

	a := mustLeaf(t, items, "a")
	assert.Equal(t, "items.a", a.Path())
	assert.Equal(t, "mem/items/a", a.Locator())
	assert.Equal(t, items.ID(), a.Parent().ID())

	rec := f.persisted(t)
	require.Contains(t, rec.Root.Children, "items")
	entry := rec.Root.Children["items"].Resources["a"]
	assert.Equal(t, "mem/items/a", entry.Locator)
	assert.Equal(t, a.Resource().Handle(), entry.Handle)
}

func TestAdd_AcceptsResolvedResources(t *testing.T) {
	f := newFixture(t)
	r, ok := f.res.Resolve("mem/op1")
	require.True(t, ok)

	tools, err := f.tree.Root().Add(context.Background(), "tools", resource.Of(r))
	require.NoError(t, err)
	assert.Equal(t, []string{"op1"}, tools.Names())
}

func TestAdd_ExistingContainerAddsOnlyNewNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.tree.Root()

	items, err := root.AddLocators(ctx, "items", "mem/items/a", "mem/items/b")
	require.NoError(t, err)
	aID := mustLeaf(t, items, "a").ID()

	again, err := root.AddLocators(ctx, "items", "mem/items/a", "mem/items/b", "mem/items/c")
	require.NoError(t, err)
	assert.Equal(t, items.ID(), again.ID())
	assert.Equal(t, []string{"a", "b", "c"}, again.Names())
	assert.Equal(t, aID, mustLeaf(t, again, "a").ID(), "existing leaf is kept")

	// Same name from a different locator is already bound.
	_, err = root.AddLocators(ctx, "items", "mem/dup/a")
	require.NoError(t, err)
	assert.Equal(t, "mem/items/a", mustLeaf(t, items, "a").Locator())
}

func TestAdd_DuplicateNamesInBatchFirstWins(t *testing.T) {
	f := newFixture(t)

	c, err := f.tree.Root().AddLocators(context.Background(), "mixed", "mem/items/a", "mem/dup/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, c.Names())
	assert.Equal(t, "mem/items/a", mustLeaf(t, c, "a").Locator())
}

func TestAdd_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		child string
		refs  []string
		check func(error) bool
	}{
		{"invalid identifier", nil, "1bad", []string{"mem/items/a"}, IsValidation},
		{"reserved name", nil, "sync", []string{"mem/items/a"}, IsValidation},
		{"keyword", nil, "for", []string{"mem/items/a"}, IsValidation},
		{"no resources", nil, "items", nil, IsValidation},
		{"unresolvable", nil, "items", []string{"mem/items/a", "mem/missing"}, IsResolution},
		{
			name: "extension name",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.tree.Root().Extend(ctx, ExtendOptions{Func: "hello", Source: libSource})
				require.NoError(t, err)
			},
			child: "hello",
			refs:  []string{"mem/items/a"},
			check: IsConflict,
		},
		{
			name: "re-add is a no-op",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.tree.Root().AddLocators(ctx, "items", "mem/items/a")
				require.NoError(t, err)
			},
			child: "items",
			refs:  []string{"mem/items/a"},
			check: func(err error) bool { return err == nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := f.tree.Root().Names()

			_, err := f.tree.Root().AddLocators(ctx, tt.child, tt.refs...)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
			if err != nil {
				assert.Equal(t, before, f.tree.Root().Names(), "no partial child")
			}
		})
	}
}

func TestAdd_ResourceNameCollidesWithContainer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.tree.Root()

	outer, err := root.AddLocators(ctx, "outer", "mem/op1")
	require.NoError(t, err)
	_, err = outer.AddLocators(ctx, "a", "mem/other")
	require.NoError(t, err)

	_, err = root.AddLocators(ctx, "outer", "mem/items/a")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, []string{"op1", "a"}, outer.Names())
}

func TestAdd_NameBoundToLeaf(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	_, err := items.AddLocators(context.Background(), "a", "mem/other")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, KindResource, mustLeaf(t, items, "a").Kind())
}

func TestRemove_Leaf(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	require.NoError(t, mustLeaf(t, items, "a").Remove(context.Background()))

	assert.Equal(t, []string{"b", "c"}, items.Names())
	res := f.persisted(t).Root.Children["items"].Resources
	assert.NotContains(t, res, "a")
	assert.Contains(t, res, "b")
	assert.Contains(t, res, "c")
}

func TestRemove_LeafByIdentityAfterRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tools, err := f.tree.Root().AddLocators(ctx, "tools", "mem/op1")
	require.NoError(t, err)
	leaf := mustLeaf(t, tools, "op1")

	_, err = f.res.Rename("mem/op1", "renamed")
	require.NoError(t, err)

	require.NoError(t, leaf.Remove(ctx))
	assert.Empty(t, tools.Names())
}

func TestRemove_RootIsNoop(t *testing.T) {
	f := newFixture(t)
	f.items(t)

	require.NoError(t, f.tree.Root().Remove(context.Background()))
	assert.Equal(t, []string{"items"}, f.tree.Root().Names())
}

func TestRemove_ContainerLeavesNoOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)
	_, err := items.AddLocators(ctx, "sub", "mem/other")
	require.NoError(t, err)
	_, err = mustLeaf(t, items, "a").Extend(ctx, ExtendOptions{Func: "hello", Source: libSource})
	require.NoError(t, err)
	_, err = items.Extend(ctx, ExtendOptions{Class: "Greeter", Source: libSource})
	require.NoError(t, err)

	require.NoError(t, items.Remove(ctx))

	assert.Equal(t, 1, f.tree.Len(), "only the root is left")
	rec := f.persisted(t)
	assert.Empty(t, rec.Root.Children)
	assert.Empty(t, rec.Root.Resources)

	_, err = items.Get("a")
	assert.True(t, IsNotFound(err))
}

func TestRemoveChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)

	require.NoError(t, items.RemoveChild(ctx, "b"))
	assert.Equal(t, []string{"a", "c"}, items.Names())

	err := items.RemoveChild(ctx, "b")
	assert.True(t, IsNotFound(err))
}

func TestRemoveChildren_SkipsMissing(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	require.NoError(t, items.RemoveChildren(context.Background(), "a", "zzz", "c"))
	assert.Equal(t, []string{"b"}, items.Names())
	assert.Equal(t, []string{"b"}, sortedKeys(f.persisted(t).Root.Children["items"].Resources))
}

func TestChildAccessors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)
	sub, err := items.AddLocators(ctx, "sub", "mem/other")
	require.NoError(t, err)

	assert.Len(t, items.Leaves(), 3)
	require.Len(t, items.Containers(), 1)
	assert.Equal(t, sub.ID(), items.Containers()[0].ID())
	assert.Equal(t, 3, items.Len(), "only leaves are counted")

	_, ok := items.Leaf("sub")
	assert.False(t, ok)
	_, ok = items.Container("a")
	assert.False(t, ok)

	got, err := items.Get("sub")
	require.NoError(t, err)
	assert.Equal(t, KindContainer, got.(Node).Kind())

	_, err = items.Get("nothing")
	assert.True(t, IsNotFound(err))
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)

	n, err := items.Broadcast(ctx, "color", "red")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, err := mustLeaf(t, items, "b").Get("color")
	require.NoError(t, err)
	assert.Equal(t, "red", v)

	n, err = items.Broadcast(ctx, "name", "x")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, n)
}

func TestLeafGet_ResourceAttributes(t *testing.T) {
	f := newFixture(t)
	a := mustLeaf(t, f.items(t), "a")

	v, err := a.Get("locator")
	require.NoError(t, err)
	assert.Equal(t, "mem/items/a", v)

	_, err = a.Get("missing")
	assert.True(t, IsNotFound(err))
}

func TestSync_OnlyFromRoot(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	err := items.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsProgramming(err))

	require.NoError(t, f.tree.Root().Sync(context.Background()))
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)
	_, err := mustLeaf(t, items, "a").Extend(ctx, ExtendOptions{Func: "hello", Source: libSource})
	require.NoError(t, err)

	n, err := f.tree.Lookup("items.a.hello")
	require.NoError(t, err)
	assert.Equal(t, KindExtension, n.Kind())
	assert.Equal(t, "items.a.hello", n.Path())

	n, err = f.tree.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, f.tree.Root().ID(), n.ID())

	_, err = f.tree.Lookup("items.z")
	assert.True(t, IsNotFound(err))
}

func TestDescribe(t *testing.T) {
	f := newFixture(t)
	items := f.items(t)

	d := items.Describe()
	assert.Equal(t, "container", d["kind"])
	assert.Equal(t, "items", d["path"])
	assert.Equal(t, false, d["is_root"])
	assert.Equal(t, []any{"a", "b", "c"}, d["children"])

	d = mustLeaf(t, items, "c").Describe()
	assert.Equal(t, "resource", d["kind"])
	assert.Equal(t, "mem/items/c", d["locator"])
}

func TestStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.items(t)

	all, err := f.tree.Root().Storage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all["version"])
	assert.Contains(t, all["children"], "items")

	only, err := f.tree.Root().Storage(ctx, "version")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"version": int64(2)}, only)

	_, err = f.tree.Root().Storage(ctx, "nope")
	assert.True(t, IsNotFound(err))

	branch, err := items.Storage(ctx, "resources")
	require.NoError(t, err)
	assert.Len(t, branch["resources"], 3)

	entry, err := mustLeaf(t, items, "a").Storage(ctx, "locator")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"locator": "mem/items/a"}, entry)
}

func TestStorageError_LeavesMemoryAhead(t *testing.T) {
	f := newFixture(t)
	tr := New(failingStore{f.store}, f.res, f.x)

	_, err := tr.Root().AddLocators(context.Background(), "items", "mem/items/a")
	require.Error(t, err)
	assert.True(t, IsStorage(err))
	assert.Equal(t, []string{"items"}, tr.Root().Names())
}
