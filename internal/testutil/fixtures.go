package testutil

import (
	"maps"
	"slices"

	"github.com/roach88/oproxy/internal/resource"
)

// NewResolver returns a memory resolver with deterministic handles
// ("h-1", "h-2", ...) seeded with files. Files are put in locator order so
// handles do not depend on map iteration.
func NewResolver(files map[string]string) *resource.Memory {
	m := resource.NewMemory(&resource.SequenceGenerator{})
	for _, loc := range slices.Sorted(maps.Keys(files)) {
		m.Put(loc, files[loc])
	}
	return m
}
