package proxy

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/naming"
	"github.com/roach88/oproxy/internal/resource"
)

var tracer = otel.Tracer("oproxy.proxy")

// Tree owns the node arena, the persistent-map handle and the
// collaborators every node operation needs.
//
// Thread-safety: none. All calls must come from one goroutine at a time.
type Tree struct {
	store     Store
	resolver  resource.Resolver
	extractor extract.Extractor

	log      *slog.Logger
	names    naming.Validator
	clock    Clock
	rec      Recorder
	maxDepth int
	key      string

	nodes   map[NodeID]*node
	next    NodeID
	root    NodeID
	syncing bool
}

// New returns a tree with an empty root. Nothing is read from the store;
// use Open or Reconcile to load the persisted hierarchy.
func New(st Store, res resource.Resolver, x extract.Extractor, opts ...Option) *Tree {
	t := &Tree{
		store:     st,
		resolver:  res,
		extractor: x,
		log:       slog.New(slog.DiscardHandler),
		names:     naming.Default,
		clock:     systemClock{},
		rec:       nopRecorder{},
		maxDepth:  DefaultMaxDepth,
		key:       DefaultKey,
		nodes:     map[NodeID]*node{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.root = t.alloc()
	t.nodes[t.root] = newNode(t.root, KindContainer, "", 0)
	return t
}

// Open returns a tree rebuilt from the persisted hierarchy. Legacy layouts
// are migrated and corrections are written back before Open returns.
func Open(ctx context.Context, st Store, res resource.Resolver, x extract.Extractor, opts ...Option) (*Tree, error) {
	t := New(st, res, x, opts...)
	if _, err := t.Reconcile(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the root container.
func (t *Tree) Root() *Container {
	return &Container{t: t, id: t.root}
}

// Key returns the persistent-map key the tree is stored under.
func (t *Tree) Key() string {
	return t.key
}

// Len returns the number of live nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Lookup resolves a dotted path from the root. Each segment names a child
// or, failing that, an extension. The empty path is the root.
func (t *Tree) Lookup(path string) (Node, error) {
	cur := t.nodes[t.root]
	for _, seg := range splitPath(path) {
		var (
			id NodeID
			ok bool
		)
		if cur.children != nil {
			id, ok = cur.children.get(seg)
		}
		if !ok {
			id, ok = cur.exts.get(seg)
		}
		if !ok {
			return nil, newError(ErrCodeNotFound, "lookup", path, nil, "no node %q under %q", seg, t.path(cur.id))
		}
		cur = t.nodes[id]
	}
	return t.handle(cur.id), nil
}

// Sync writes the whole tree to the persistent map.
func (t *Tree) Sync(ctx context.Context) error {
	return t.sync(ctx)
}

// Clear restores the persisted key to its default and rebuilds the
// hierarchy from it, root extensions included. The live tree is untouched
// when the restore fails.
func (t *Tree) Clear(ctx context.Context) error {
	if err := t.store.RestoreDefault(ctx, t.key); err != nil {
		return newError(ErrCodeStorage, "clear", "", err, "restore default for %q", t.key)
	}
	t.log.Info("cleared persisted hierarchy", "key", t.key)
	_, err := t.Reconcile(ctx)
	return err
}

func (t *Tree) alloc() NodeID {
	t.next++
	return t.next
}

func (t *Tree) live(op string, id NodeID) (*node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, newError(ErrCodeNotFound, op, "", nil, "node %d was removed", id)
	}
	return n, nil
}

func (t *Tree) path(id NodeID) string {
	var segs []string
	for n := t.nodes[id]; n != nil && n.id != t.root; n = t.nodes[n.parent] {
		segs = append(segs, n.name)
	}
	slices.Reverse(segs)
	out := ""
	for _, s := range segs {
		out = joinPath(out, s)
	}
	return out
}

func (t *Tree) handle(id NodeID) Node {
	n := t.nodes[id]
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindResource:
		return &Leaf{t: t, id: id}
	case KindExtension:
		return &Extension{t: t, id: id}
	default:
		return &Container{t: t, id: id}
	}
}

// drop removes id and everything it owns from the arena: extensions first,
// then children. The node is detached from its owner by identity.
func (t *Tree) drop(id NodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	exts := n.exts.names()
	slices.Reverse(exts)
	for _, name := range exts {
		if eid, ok := n.exts.get(name); ok {
			t.drop(eid)
		}
	}
	if n.children != nil {
		for _, name := range n.children.names() {
			if cid, ok := n.children.get(name); ok {
				t.drop(cid)
			}
		}
	}
	if p, ok := t.nodes[n.parent]; ok && id != t.root {
		owner := p.children
		if n.kind == KindExtension {
			owner = p.exts
		}
		if owner != nil {
			if name, ok := owner.nameOf(id); ok {
				owner.del(name)
			}
		}
	}
	delete(t.nodes, id)
}

// subtree returns id and all nodes it owns.
func (t *Tree) subtree(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := []NodeID{id}
	for _, name := range n.exts.names() {
		eid, _ := n.exts.get(name)
		out = append(out, t.subtree(eid)...)
	}
	if n.children != nil {
		for _, name := range n.children.names() {
			cid, _ := n.children.get(name)
			out = append(out, t.subtree(cid)...)
		}
	}
	return out
}

func (t *Tree) checkName(op, path, name string) error {
	if err := naming.Check(t.names, name); err != nil {
		return newError(ErrCodeValidation, op, path, err, "invalid name")
	}
	return nil
}
