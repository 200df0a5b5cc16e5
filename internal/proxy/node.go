package proxy

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// NodeID addresses a node in a Tree's arena. IDs are never reused; 0 is
// "no node".
type NodeID uint64

// Kind is the kind of a node.
type Kind string

const (
	KindContainer Kind = "container"
	KindResource  Kind = "resource"
	KindExtension Kind = "extension"
)

// Node is implemented by *Container, *Leaf and *Extension.
type Node interface {
	ID() NodeID
	Kind() Kind
	Name() string
	Path() string

	// Get resolves a dynamic attribute: a child, an extension, an attribute
	// of a patched variant or instance, or a resource attribute.
	Get(name string) (any, error)

	// Call invokes the extension or variant method called name.
	Call(ctx context.Context, name string, args ...any) (any, error)

	Extend(ctx context.Context, opts ExtendOptions) (*Extension, error)
	Extension(name string) (*Extension, bool)
	Extensions() []*Extension

	// Describe returns plain data about the node. Functions declaring a
	// receiver see this as self.
	Describe() map[string]any
}

// node is an arena slot.
type node struct {
	id     NodeID
	kind   Kind
	name   string
	parent NodeID

	children *index // containers only
	exts     *index

	// leaves
	res     resource.Resource
	locator string // last known
	handle  string

	// extensions
	ext *extState

	// containers and leaves
	patch *patchState
}

type extState struct {
	meta     ir.ExtensionMeta
	artifact extract.Artifact
	object   extract.Object // set once a class was instantiated
}

type patchState struct {
	rec ir.PatchRecord
	obj extract.Object
}

func newNode(id NodeID, kind Kind, name string, parent NodeID) *node {
	n := &node{id: id, kind: kind, name: name, parent: parent, exts: newIndex()}
	if kind == KindContainer {
		n.children = newIndex()
	}
	return n
}

// index is an insertion-ordered name -> NodeID map.
type index struct {
	order []string
	ids   map[string]NodeID
}

func newIndex() *index {
	return &index{ids: map[string]NodeID{}}
}

func (x *index) get(name string) (NodeID, bool) {
	id, ok := x.ids[name]
	return id, ok
}

func (x *index) has(name string) bool {
	_, ok := x.ids[name]
	return ok
}

func (x *index) put(name string, id NodeID) {
	if _, ok := x.ids[name]; !ok {
		x.order = append(x.order, name)
	}
	x.ids[name] = id
}

func (x *index) del(name string) bool {
	if _, ok := x.ids[name]; !ok {
		return false
	}
	delete(x.ids, name)
	x.order = slices.DeleteFunc(x.order, func(s string) bool { return s == name })
	return true
}

// nameOf finds the key bound to id.
func (x *index) nameOf(id NodeID) (string, bool) {
	for _, name := range x.order {
		if x.ids[name] == id {
			return name, true
		}
	}
	return "", false
}

func (x *index) names() []string {
	return slices.Clone(x.order)
}

func (x *index) len() int {
	return len(x.order)
}

// reorder sorts names by their position in ref. Names absent from ref keep
// their relative order after the known ones.
func (x *index) reorder(ref *index) {
	if ref == nil {
		return
	}
	pos := make(map[string]int, len(ref.order))
	for i, name := range ref.order {
		pos[name] = i
	}
	slices.SortStableFunc(x.order, func(a, b string) int {
		pa, oka := pos[a]
		pb, okb := pos[b]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func namesOf(x *index) []any {
	out := make([]any, 0, x.len())
	for _, name := range x.order {
		out = append(out, name)
	}
	return out
}
