package proxy

import (
	"context"
	"errors"

	"github.com/roach88/oproxy/internal/resource"
)

// Container is a handle to a container node.
type Container struct {
	t  *Tree
	id NodeID
}

var _ Node = (*Container)(nil)

func (c *Container) ID() NodeID { return c.id }
func (c *Container) Kind() Kind { return KindContainer }

// Name returns the container's key in its parent; "" for the root.
func (c *Container) Name() string {
	if n, ok := c.t.nodes[c.id]; ok {
		return n.name
	}
	return ""
}

// Path returns the dotted path from the root; "" for the root.
func (c *Container) Path() string { return c.t.path(c.id) }

// IsRoot reports whether c is the tree's root.
func (c *Container) IsRoot() bool { return c.id == c.t.root }

// Parent returns the parent container, nil for the root.
func (c *Container) Parent() *Container {
	n, ok := c.t.nodes[c.id]
	if !ok || c.IsRoot() {
		return nil
	}
	return &Container{t: c.t, id: n.parent}
}

// Add binds resources under a child container called name.
//
// If name is unused, a new container is created holding one leaf per
// distinct resource name; the first occurrence of a name wins. Every ref is
// resolved before anything changes, so a bad ref leaves no partial child.
// If name is an existing container, only resources whose names are not
// already bound there are added. The whole tree is synced afterwards.
func (c *Container) Add(ctx context.Context, name string, refs ...resource.Ref) (*Container, error) {
	const op = "add"
	t := c.t
	n, err := t.live(op, c.id)
	if err != nil {
		return nil, err
	}
	path := t.path(c.id)
	if err := t.checkName(op, path, name); err != nil {
		return nil, err
	}
	if n.exts.has(name) {
		return nil, newError(ErrCodeConflict, op, path, nil, "%q is an extension", name)
	}

	var target *node
	if id, ok := n.children.get(name); ok {
		target = t.nodes[id]
		if target.kind != KindContainer {
			return nil, newError(ErrCodeConflict, op, path, nil, "%q is bound to a resource, not a container", name)
		}
	} else if len(refs) == 0 {
		return nil, newError(ErrCodeValidation, op, path, nil, "container %q needs at least one resource", name)
	}

	childPath := joinPath(path, name)
	resolved, err := t.resolveRefs(op, childPath, refs)
	if err != nil {
		return nil, err
	}

	// Check every binding before mutating anything.
	type binding struct {
		name string
		res  resource.Resource
	}
	var pending []binding
	seen := map[string]bool{}
	for _, r := range resolved {
		rname := r.Name()
		if err := t.checkName(op, childPath, rname); err != nil {
			return nil, newError(ErrCodeValidation, op, childPath, err, "resource %q", r.Locator())
		}
		if seen[rname] {
			t.log.Warn("skipping duplicate resource name in batch", "path", childPath, "name", rname, "locator", r.Locator())
			continue
		}
		seen[rname] = true
		if target != nil {
			if target.exts.has(rname) {
				return nil, newError(ErrCodeConflict, op, childPath, nil, "resource name %q is an extension", rname)
			}
			if id, ok := target.children.get(rname); ok {
				if t.nodes[id].kind == KindContainer {
					return nil, newError(ErrCodeConflict, op, childPath, nil, "resource name %q is a container", rname)
				}
				t.log.Debug("resource already bound", "path", childPath, "name", rname)
				continue
			}
		}
		pending = append(pending, binding{name: rname, res: r})
	}

	if target == nil {
		id := t.alloc()
		target = newNode(id, KindContainer, name, c.id)
		t.nodes[id] = target
		n.children.put(name, id)
		t.log.Info("created container", "path", childPath)
	} else if len(pending) == 0 {
		return &Container{t: t, id: target.id}, nil
	}
	for _, b := range pending {
		t.bindLeaf(target, b.name, b.res)
	}

	if err := t.sync(ctx); err != nil {
		return nil, err
	}
	return &Container{t: t, id: target.id}, nil
}

// AddLocators is Add with refs resolved from locators.
func (c *Container) AddLocators(ctx context.Context, name string, locators ...string) (*Container, error) {
	return c.Add(ctx, name, resource.Locators(locators...)...)
}

func (t *Tree) resolveRefs(op, path string, refs []resource.Ref) ([]resource.Resource, error) {
	out := make([]resource.Resource, 0, len(refs))
	for _, ref := range refs {
		r := ref.Resource
		if r == nil {
			var ok bool
			r, ok = t.resolver.Resolve(ref.Locator)
			if !ok {
				return nil, newError(ErrCodeResolution, op, path, nil, "cannot resolve %q", ref.Locator)
			}
		}
		if !r.Valid() {
			return nil, newError(ErrCodeResolution, op, path, nil, "resource %q is not valid", ref.String())
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *Tree) bindLeaf(parent *node, name string, r resource.Resource) *node {
	id := t.alloc()
	leaf := newNode(id, KindResource, name, parent.id)
	leaf.res = r
	leaf.locator = r.Locator()
	leaf.handle = r.Handle()
	t.nodes[id] = leaf
	parent.children.put(name, id)
	return leaf
}

// Remove detaches the container and everything below it, then syncs. On the
// root it only logs a warning.
func (c *Container) Remove(ctx context.Context) error {
	t := c.t
	if _, err := t.live("remove", c.id); err != nil {
		return err
	}
	if c.IsRoot() {
		t.log.Warn("cannot remove the root container")
		return nil
	}
	path := t.path(c.id)
	t.drop(c.id)
	t.log.Info("removed container", "path", path)
	return t.sync(ctx)
}

// RemoveChild removes one child container or leaf and syncs.
func (c *Container) RemoveChild(ctx context.Context, name string) error {
	const op = "remove"
	t := c.t
	n, err := t.live(op, c.id)
	if err != nil {
		return err
	}
	id, ok := n.children.get(name)
	if !ok {
		return newError(ErrCodeNotFound, op, t.path(c.id), nil, "no child %q", name)
	}
	t.drop(id)
	t.log.Info("removed child", "path", t.path(c.id), "name", name)
	return t.sync(ctx)
}

// RemoveChildren removes each named child in order. Missing names are
// logged and skipped. The tree is synced once at the end.
func (c *Container) RemoveChildren(ctx context.Context, names ...string) error {
	t := c.t
	n, err := t.live("remove", c.id)
	if err != nil {
		return err
	}
	path := t.path(c.id)
	removed := 0
	for _, name := range names {
		id, ok := n.children.get(name)
		if !ok {
			t.log.Warn("no such child, skipping", "path", path, "name", name)
			continue
		}
		t.drop(id)
		removed++
	}
	if removed == 0 {
		return nil
	}
	return t.sync(ctx)
}

// Child returns the child container or leaf called name.
func (c *Container) Child(name string) (Node, bool) {
	n, ok := c.t.nodes[c.id]
	if !ok {
		return nil, false
	}
	id, ok := n.children.get(name)
	if !ok {
		return nil, false
	}
	return c.t.handle(id), true
}

// Container returns the child container called name.
func (c *Container) Container(name string) (*Container, bool) {
	ch, ok := c.Child(name)
	if !ok {
		return nil, false
	}
	cc, ok := ch.(*Container)
	return cc, ok
}

// Leaf returns the child leaf called name.
func (c *Container) Leaf(name string) (*Leaf, bool) {
	ch, ok := c.Child(name)
	if !ok {
		return nil, false
	}
	l, ok := ch.(*Leaf)
	return l, ok
}

// Names returns child names in insertion order.
func (c *Container) Names() []string {
	n, ok := c.t.nodes[c.id]
	if !ok {
		return nil
	}
	return n.children.names()
}

// Leaves returns the child leaves in insertion order.
func (c *Container) Leaves() []*Leaf {
	var out []*Leaf
	for _, name := range c.Names() {
		if l, ok := c.Leaf(name); ok {
			out = append(out, l)
		}
	}
	return out
}

// Containers returns the child containers in insertion order.
func (c *Container) Containers() []*Container {
	var out []*Container
	for _, name := range c.Names() {
		if cc, ok := c.Container(name); ok {
			out = append(out, cc)
		}
	}
	return out
}

// Len returns the number of leaves directly under c.
func (c *Container) Len() int {
	return len(c.Leaves())
}

// Broadcast sets attr on every leaf resource that accepts writes and
// returns how many were updated. Read-only resources are skipped.
func (c *Container) Broadcast(ctx context.Context, attr string, value any) (int, error) {
	if _, err := c.t.live("broadcast", c.id); err != nil {
		return 0, err
	}
	var errs []error
	updated := 0
	for _, l := range c.Leaves() {
		n := c.t.nodes[l.id]
		m, ok := n.res.(resource.Mutable)
		if !ok {
			c.t.log.Debug("resource is read-only, skipping", "path", c.t.path(l.id), "attr", attr)
			continue
		}
		if err := m.SetAttr(attr, value); err != nil {
			errs = append(errs, newError(ErrCodeValidation, "broadcast", c.t.path(l.id), err, "set %q", attr))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

// Sync writes the whole tree to storage. Only valid on the root.
func (c *Container) Sync(ctx context.Context) error {
	if !c.IsRoot() {
		return newError(ErrCodeProgramming, "sync", c.Path(), nil, "sync must run from the root")
	}
	return c.t.sync(ctx)
}

// Extend attaches an extension to the container.
func (c *Container) Extend(ctx context.Context, opts ExtendOptions) (*Extension, error) {
	return c.t.extend(ctx, c.id, opts)
}

// Extension returns the extension called name.
func (c *Container) Extension(name string) (*Extension, bool) {
	return c.t.extension(c.id, name)
}

// Extensions returns the container's extensions in insertion order.
func (c *Container) Extensions() []*Extension {
	return c.t.extensions(c.id)
}

// Get resolves name as a child, then an extension, then a field of the
// patched variant.
func (c *Container) Get(name string) (any, error) {
	t := c.t
	n, err := t.live("get", c.id)
	if err != nil {
		return nil, err
	}
	if id, ok := n.children.get(name); ok {
		return t.handle(id), nil
	}
	if id, ok := n.exts.get(name); ok {
		return &Extension{t: t, id: id}, nil
	}
	if n.patch != nil {
		if v, ok := n.patch.obj.Attr(name); ok {
			return v, nil
		}
	}
	return nil, newError(ErrCodeNotFound, "get", t.path(c.id), nil, "no attribute %q", name)
}

// Call invokes the extension called name, or the method of the patched
// variant.
func (c *Container) Call(ctx context.Context, name string, args ...any) (any, error) {
	return c.t.call(ctx, c.id, name, args)
}

// Describe implements extract.Receiver.
func (c *Container) Describe() map[string]any {
	n, ok := c.t.nodes[c.id]
	if !ok {
		return map[string]any{}
	}
	d := map[string]any{
		"kind":       string(KindContainer),
		"name":       n.name,
		"path":       c.t.path(c.id),
		"is_root":    c.IsRoot(),
		"children":   namesOf(n.children),
		"extensions": namesOf(n.exts),
	}
	if n.patch != nil {
		d["variant"] = n.patch.rec.Class
	}
	return d
}

// Storage returns this container's persisted branch. With keys, only those
// top-level entries are returned.
func (c *Container) Storage(ctx context.Context, keys ...string) (map[string]any, error) {
	t := c.t
	if _, err := t.live("storage", c.id); err != nil {
		return nil, err
	}
	rec, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	branch, ok := rec.Root.Lookup(splitPath(t.path(c.id)))
	if !ok {
		return nil, newError(ErrCodeNotFound, "storage", t.path(c.id), nil, "not persisted")
	}
	v := branch.Value()
	if c.IsRoot() {
		v = rec.Value()
	}
	return filterKeys("storage", t.path(c.id), v, keys)
}
