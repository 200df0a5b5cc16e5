package proxy

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/naming"
	"github.com/roach88/oproxy/internal/resource"
)

// ReconcileStats counts what a reconciliation changed.
type ReconcileStats struct {
	// Migrated counts legacy entries rewritten or dropped by migration.
	Migrated int

	// Resources counts leaves rebuilt.
	Resources int

	// Renamed counts leaves re-keyed under their resource's new name.
	Renamed int

	// Relocated counts leaves and extension sources whose locator changed.
	Relocated int

	// Dropped counts resource entries that no longer resolve.
	Dropped int

	// Extensions counts extensions rebuilt, nested ones included.
	Extensions int

	// Failed counts extensions and patches that could not be rebuilt.
	Failed int
}

// Dirty reports whether reconciliation corrected anything.
func (s ReconcileStats) Dirty() bool {
	return s.Migrated+s.Renamed+s.Relocated+s.Dropped+s.Failed > 0
}

// Reconcile rebuilds the whole tree from the persisted mirror against the
// current state of resources and sources, then writes corrections back.
func (t *Tree) Reconcile(ctx context.Context) (ReconcileStats, error) {
	return t.reconcile(ctx, t.root)
}

// Reconcile rebuilds this container's subtree from the persisted mirror.
// The whole tree is written back afterwards.
func (c *Container) Reconcile(ctx context.Context) (ReconcileStats, error) {
	return c.t.reconcile(ctx, c.id)
}

func (t *Tree) reconcile(ctx context.Context, target NodeID) (stats ReconcileStats, err error) {
	const op = "reconcile"
	n, err := t.live(op, target)
	if err != nil {
		return stats, err
	}
	path := t.path(target)

	ctx, span := tracer.Start(ctx, "proxy.reconcile", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()
	defer func() { t.rec.ObserveReconcile(stats, err) }()

	persisted, err := t.load(ctx)
	if err != nil {
		return stats, err
	}
	persisted, stats.Migrated = t.migrate(persisted)

	rec, ok := persisted.Root.Lookup(splitPath(path))
	if !ok {
		t.log.Warn("container not in persisted tree, rebuilding empty", "path", path)
		rec = ir.NewContainer()
	}

	b := &builder{t: t, nodes: map[NodeID]*node{}, stats: &stats}
	b.container(ctx, target, n.name, n.parent, n, path, rec)
	t.graft(target, b.nodes)
	b.invokeCalled(ctx)

	t.log.Info("reconciled",
		"path", path,
		"resources", stats.Resources,
		"renamed", stats.Renamed,
		"dropped", stats.Dropped,
		"extensions", stats.Extensions,
		"failed", stats.Failed,
	)

	if err := t.sync(ctx); err != nil {
		span.RecordError(err)
		return stats, err
	}
	return stats, nil
}

// graft replaces the subtree at target with the built nodes. Nodes of the
// old subtree whose IDs were not reused are discarded.
func (t *Tree) graft(target NodeID, built map[NodeID]*node) {
	for _, id := range t.subtree(target) {
		if _, keep := built[id]; !keep {
			delete(t.nodes, id)
		}
	}
	for id, n := range built {
		t.nodes[id] = n
	}
}

// builder rebuilds a subtree off to the side so a failed entry never
// leaves the live arena half-updated.
type builder struct {
	t     *Tree
	nodes map[NodeID]*node
	stats *ReconcileStats
	calls []pendingCall
}

// pendingCall is a function extension with call set. It runs once the
// rebuilt subtree is live, so a receiver sees its rebuilt owner.
type pendingCall struct {
	owner NodeID
	path  string
	fn    extract.Func
	args  []any
}

// invokeCalled runs the queued function calls in build order. A failing
// call is logged and counted; the extension stays attached.
func (b *builder) invokeCalled(ctx context.Context) {
	for _, c := range b.calls {
		if _, err := b.t.invoke(ctx, c.owner, c.fn, c.args); err != nil {
			b.t.log.Warn("called extension failed", "path", c.path, "error", err)
			b.stats.Failed++
		}
	}
}

// reuse returns the ID of the old node bound to name with the same kind,
// or a fresh ID.
func (b *builder) reuse(old *index, name string, kind Kind) NodeID {
	if old != nil {
		if id, ok := old.get(name); ok {
			if n, ok := b.t.nodes[id]; ok && n.kind == kind {
				if _, taken := b.nodes[id]; !taken {
					return id
				}
			}
		}
	}
	return b.t.alloc()
}

// container rebuilds one container: variant first, then resources, then
// extensions, then child containers.
func (b *builder) container(ctx context.Context, id NodeID, name string, parent NodeID, old *node, path string, rec ir.ContainerRecord) *node {
	t := b.t
	n := newNode(id, KindContainer, name, parent)
	b.nodes[id] = n

	var oldChildren, oldExts *index
	if old != nil {
		oldChildren, oldExts = old.children, old.exts
	}

	if rec.Patch != nil {
		n.patch = b.patch(ctx, n, path, *rec.Patch)
	}

	// Resource pass.
	type rebuilt struct {
		leaf *node
		old  *node
		rec  ir.ResourceRecord
	}
	var leaves []rebuilt
	for _, key := range sortedKeys(rec.Resources) {
		rr := rec.Resources[key]
		r, byLocator, ok := resource.Lookup(t.resolver, rr.Locator, rr.Handle)
		if !ok {
			t.log.Warn("resource no longer resolves, dropping", "path", joinPath(path, key), "locator", rr.Locator)
			b.stats.Dropped++
			continue
		}
		if !byLocator {
			t.log.Info("resource found by handle", "path", joinPath(path, key), "was", rr.Locator, "now", r.Locator())
		}

		finalKey := key
		if current := r.Name(); current != key {
			if reason := b.renameBlocked(rec, n, current); reason != "" {
				t.log.Warn("keeping old key for renamed resource", "path", joinPath(path, key), "name", current, "reason", reason)
			} else {
				t.log.Info("resource renamed", "path", path, "from", key, "to", current)
				finalKey = current
				b.stats.Renamed++
			}
		}
		if r.Locator() != rr.Locator {
			b.stats.Relocated++
		}

		var oldLeaf *node
		lid := b.reuse(oldChildren, key, KindResource)
		if o, ok := t.nodes[lid]; ok {
			oldLeaf = o
		}
		leaf := newNode(lid, KindResource, finalKey, id)
		leaf.res = r
		leaf.locator = r.Locator()
		leaf.handle = r.Handle()
		b.nodes[lid] = leaf
		n.children.put(finalKey, lid)
		b.stats.Resources++

		if rr.Patch != nil {
			leaf.patch = b.patch(ctx, leaf, joinPath(path, finalKey), *rr.Patch)
		}
		leaves = append(leaves, rebuilt{leaf: leaf, old: oldLeaf, rec: rr})
	}

	// Extension pass.
	b.extensions(ctx, n, oldExts, path, rec.Extensions)
	for _, l := range leaves {
		var oe *index
		if l.old != nil {
			oe = l.old.exts
		}
		b.extensions(ctx, l.leaf, oe, joinPath(path, l.leaf.name), l.rec.Extensions)
	}

	// Child containers.
	for _, cname := range sortedKeys(rec.Children) {
		if n.children.has(cname) {
			t.log.Warn("child container collides with a resource, skipping", "path", joinPath(path, cname))
			continue
		}
		cid := b.reuse(oldChildren, cname, KindContainer)
		var oldChild *node
		if o, ok := t.nodes[cid]; ok {
			oldChild = o
		}
		b.container(ctx, cid, cname, id, oldChild, joinPath(path, cname), rec.Children[cname])
		n.children.put(cname, cid)
	}

	n.children.reorder(oldChildren)
	n.exts.reorder(oldExts)
	return n
}

// renameBlocked explains why a leaf cannot take its resource's new name,
// or returns "".
func (b *builder) renameBlocked(rec ir.ContainerRecord, n *node, name string) string {
	if err := naming.Check(b.t.names, name); err != nil {
		return err.Error()
	}
	if _, ok := rec.Resources[name]; ok {
		return "another resource entry has that name"
	}
	if _, ok := rec.Children[name]; ok {
		return "a child container has that name"
	}
	if _, ok := rec.Extensions[name]; ok {
		return "an extension has that name"
	}
	if n.children.has(name) {
		return "already bound"
	}
	return ""
}

func (b *builder) extensions(ctx context.Context, owner *node, old *index, path string, recs map[string]ir.ExtensionRecord) {
	for _, name := range sortedKeys(recs) {
		ext, err := b.extension(ctx, owner, old, name, path, recs[name])
		if err != nil {
			b.t.log.Warn("cannot rebuild extension, dropping", "path", joinPath(path, name), "error", err)
			b.stats.Failed++
			continue
		}
		owner.exts.put(name, ext.id)
	}
}

// extension rebuilds one extension. Nested extensions are built before the
// rebuilt extension is returned for attachment.
func (b *builder) extension(ctx context.Context, owner *node, old *index, name, path string, rec ir.ExtensionRecord) (*node, error) {
	t := b.t
	meta := rec.Meta
	if !meta.Kind.Valid() {
		return nil, fmt.Errorf("unknown symbol kind %q", meta.Kind)
	}

	src, err := b.source(meta.Source, meta.SourceHandle)
	if err != nil {
		return nil, err
	}
	if src.Locator() != meta.Source {
		t.log.Info("extension source moved", "path", joinPath(path, name), "from", meta.Source, "to", src.Locator())
		meta.Source = src.Locator()
		b.stats.Relocated++
	}
	meta.SourceHandle = src.Handle()

	artifact, err := t.extractArtifact(ctx, meta.Kind, meta.Symbol, src)
	if err != nil {
		return nil, err
	}
	state := &extState{meta: meta, artifact: artifact}
	if meta.Call {
		if class, ok := artifact.(extract.Class); ok {
			obj, err := class.New(ctx, meta.Args.Args()...)
			if err != nil {
				return nil, fmt.Errorf("instantiate %q: %w", meta.Symbol, err)
			}
			state.object = obj
		}
	}

	id := b.reuse(old, name, KindExtension)
	if fn, ok := artifact.(extract.Func); ok && meta.Call {
		b.calls = append(b.calls, pendingCall{owner: owner.id, path: joinPath(path, name), fn: fn, args: meta.Args.Args()})
	}
	var oldNested *index
	if o, ok := t.nodes[id]; ok {
		oldNested = o.exts
	}
	n := newNode(id, KindExtension, name, owner.id)
	n.ext = state
	b.nodes[id] = n
	b.extensions(ctx, n, oldNested, joinPath(path, name), rec.Extensions)
	n.exts.reorder(oldNested)
	b.stats.Extensions++
	return n, nil
}

// patch restores a variant. Failures drop the patch and are logged.
func (b *builder) patch(ctx context.Context, n *node, path string, rec ir.PatchRecord) *patchState {
	t := b.t
	src, err := b.source(rec.Source, rec.SourceHandle)
	if err == nil {
		rec.Source = src.Locator()
		rec.SourceHandle = src.Handle()
		var state *patchState
		state, err = t.instantiatePatch(ctx, n, rec, src)
		if err == nil {
			return state
		}
	}
	t.log.Warn("cannot restore variant, dropping", "path", path, "class", rec.Class, "error", err)
	b.stats.Failed++
	return nil
}

func (b *builder) source(locator, handle string) (resource.Source, error) {
	r, _, ok := resource.Lookup(b.t.resolver, locator, handle)
	if !ok {
		return nil, newError(ErrCodeResolution, "reconcile", "", nil, "cannot resolve source %q", locator)
	}
	return resource.AsSource(r)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
