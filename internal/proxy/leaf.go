package proxy

import (
	"context"

	"github.com/roach88/oproxy/internal/resource"
)

// Leaf is a handle to a node bound to one external resource.
type Leaf struct {
	t  *Tree
	id NodeID
}

var _ Node = (*Leaf)(nil)

func (l *Leaf) ID() NodeID { return l.id }
func (l *Leaf) Kind() Kind { return KindResource }

// Name returns the leaf's key in its parent.
func (l *Leaf) Name() string {
	if n, ok := l.t.nodes[l.id]; ok {
		return n.name
	}
	return ""
}

func (l *Leaf) Path() string { return l.t.path(l.id) }

// Resource returns the bound resource, nil once removed.
func (l *Leaf) Resource() resource.Resource {
	if n, ok := l.t.nodes[l.id]; ok {
		return n.res
	}
	return nil
}

// Locator returns the last known locator of the resource.
func (l *Leaf) Locator() string {
	if n, ok := l.t.nodes[l.id]; ok {
		return n.locator
	}
	return ""
}

// Parent returns the owning container.
func (l *Leaf) Parent() *Container {
	n, ok := l.t.nodes[l.id]
	if !ok {
		return nil
	}
	return &Container{t: l.t, id: n.parent}
}

// Remove detaches the leaf from its parent and syncs. The parent entry is
// found by identity, so this works even if the resource was renamed since
// it was bound.
func (l *Leaf) Remove(ctx context.Context) error {
	t := l.t
	if _, err := t.live("remove", l.id); err != nil {
		return err
	}
	path := t.path(l.id)
	t.drop(l.id)
	t.log.Info("removed resource", "path", path)
	return t.sync(ctx)
}

// Extend attaches an extension to the leaf.
func (l *Leaf) Extend(ctx context.Context, opts ExtendOptions) (*Extension, error) {
	return l.t.extend(ctx, l.id, opts)
}

// Extension returns the extension called name.
func (l *Leaf) Extension(name string) (*Extension, bool) {
	return l.t.extension(l.id, name)
}

// Extensions returns the leaf's extensions in insertion order.
func (l *Leaf) Extensions() []*Extension {
	return l.t.extensions(l.id)
}

// Get resolves name as an extension, then a field of the patched variant,
// then an attribute of the resource.
func (l *Leaf) Get(name string) (any, error) {
	t := l.t
	n, err := t.live("get", l.id)
	if err != nil {
		return nil, err
	}
	if id, ok := n.exts.get(name); ok {
		return &Extension{t: t, id: id}, nil
	}
	if n.patch != nil {
		if v, ok := n.patch.obj.Attr(name); ok {
			return v, nil
		}
	}
	if a, ok := n.res.(resource.Attributer); ok {
		if v, ok := a.Attr(name); ok {
			return v, nil
		}
	}
	return nil, newError(ErrCodeNotFound, "get", t.path(l.id), nil, "no attribute %q", name)
}

// Call invokes the extension called name, or the method of the patched
// variant.
func (l *Leaf) Call(ctx context.Context, name string, args ...any) (any, error) {
	return l.t.call(ctx, l.id, name, args)
}

// Describe implements extract.Receiver.
func (l *Leaf) Describe() map[string]any {
	n, ok := l.t.nodes[l.id]
	if !ok {
		return map[string]any{}
	}
	d := map[string]any{
		"kind":       string(KindResource),
		"name":       n.name,
		"path":       l.t.path(l.id),
		"locator":    n.locator,
		"handle":     n.handle,
		"extensions": namesOf(n.exts),
	}
	if n.patch != nil {
		d["variant"] = n.patch.rec.Class
	}
	return d
}

// Storage returns the leaf's persisted entry.
func (l *Leaf) Storage(ctx context.Context, keys ...string) (map[string]any, error) {
	t := l.t
	n, err := t.live("storage", l.id)
	if err != nil {
		return nil, err
	}
	path := t.path(l.id)
	rec, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	parent, ok := rec.Root.Lookup(splitPath(t.path(n.parent)))
	if !ok {
		return nil, newError(ErrCodeNotFound, "storage", path, nil, "not persisted")
	}
	entry, ok := parent.Resources[n.name]
	if !ok {
		return nil, newError(ErrCodeNotFound, "storage", path, nil, "not persisted")
	}
	return filterKeys("storage", path, entry.Value(), keys)
}
