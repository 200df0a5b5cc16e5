package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver_SortedHandles(t *testing.T) {
	m := NewResolver(map[string]string{
		"mem/b": "",
		"mem/a": "",
		"mem/c": "",
	})

	for i, loc := range []string{"mem/a", "mem/b", "mem/c"} {
		r, ok := m.Resolve(loc)
		require.True(t, ok, loc)
		assert.Equal(t, []string{"h-1", "h-2", "h-3"}[i], r.Handle())
	}
}
