package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResolve(t *testing.T) {
	m := NewMemory(&SequenceGenerator{})
	h := m.Put("/items/a", "text")
	assert.Equal(t, "h-1", h)

	r, ok := m.Resolve("/items/a")
	require.True(t, ok)
	assert.True(t, r.Valid())
	assert.Equal(t, "a", r.Name())
	assert.Equal(t, "/items/a", r.Locator())
	assert.Equal(t, h, r.Handle())

	byHandle, ok := m.ResolveHandle(h)
	require.True(t, ok)
	assert.Equal(t, r.Locator(), byHandle.Locator())

	_, ok = m.Resolve("/missing")
	assert.False(t, ok)
}

func TestMemoryPutKeepsHandle(t *testing.T) {
	m := NewMemory(&SequenceGenerator{})
	h1 := m.Put("/src/a.cue", "one")
	h2 := m.Put("/src/a.cue", "two")
	assert.Equal(t, h1, h2)

	r, _ := m.Resolve("/src/a.cue")
	src, err := AsSource(r)
	require.NoError(t, err)
	text, err := src.Text()
	require.NoError(t, err)
	assert.Equal(t, "two", text)
}

func TestMemoryRenameIsVisibleThroughExistingRefs(t *testing.T) {
	m := NewMemory(&SequenceGenerator{})
	m.Put("/items/op1", "")
	r, _ := m.Resolve("/items/op1")

	to, err := m.Rename("/items/op1", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "/items/renamed", to)

	assert.Equal(t, "renamed", r.Name())
	_, ok := m.Resolve("/items/op1")
	assert.False(t, ok)
}

func TestMemoryMoveConflicts(t *testing.T) {
	m := NewMemory(nil)
	m.Put("/a", "")
	m.Put("/b", "")
	require.Error(t, m.Move("/a", "/b"))
	require.Error(t, m.Move("/missing", "/c"))
}

func TestMemoryDeleteInvalidates(t *testing.T) {
	m := NewMemory(&SequenceGenerator{})
	h := m.Put("/items/a", "x")
	r, _ := m.Resolve("/items/a")

	require.NoError(t, m.Delete("/items/a"))
	assert.False(t, r.Valid())
	_, ok := m.ResolveHandle(h)
	assert.False(t, ok)
	require.Error(t, m.Delete("/items/a"))
	assert.Empty(t, m.Locators())
}

func TestMemoryAttrs(t *testing.T) {
	m := NewMemory(nil)
	m.Put("/items/a", "")
	r, _ := m.Resolve("/items/a")

	attr := r.(Attributer)
	name, ok := attr.Attr("name")
	require.True(t, ok)
	assert.Equal(t, "a", name)

	mut := r.(Mutable)
	require.NoError(t, mut.SetAttr("color", "red"))
	got, ok := attr.Attr("color")
	require.True(t, ok)
	assert.Equal(t, "red", got)
	assert.Error(t, mut.SetAttr("name", "b"))
}

func TestLookupFallsBackToHandle(t *testing.T) {
	m := NewMemory(&SequenceGenerator{})
	h := m.Put("/items/a", "")
	_, err := m.Rename("/items/a", "b")
	require.NoError(t, err)

	r, byLocator, ok := Lookup(m, "/items/a", h)
	require.True(t, ok)
	assert.False(t, byLocator)
	assert.Equal(t, "b", r.Name())

	_, _, ok = Lookup(m, "/items/gone", "h-99")
	assert.False(t, ok)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a", BaseName("/x/a.cue"))
	assert.Equal(t, "a", BaseName("/x/a/"))
	assert.Equal(t, ".hidden", BaseName("/x/.hidden"))
	assert.Equal(t, "plain", BaseName("plain"))
}

func TestRefString(t *testing.T) {
	m := NewMemory(nil)
	m.Put("/a", "")
	r, _ := m.Resolve("/a")
	assert.Equal(t, "/a", Of(r).String())
	assert.Equal(t, "/b", ByLocator("/b").String())
	assert.Len(t, Locators("/a", "/b"), 2)
}
