package proxy

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// ExtendOptions describes an extension to attach.
type ExtendOptions struct {
	// Name is the attribute name. Defaults to the symbol.
	Name string

	// Class and Func name the symbol to extract. Exactly one must be set.
	Class string
	Func  string

	// Source is the locator of the source text.
	Source string

	// Args are passed when Call is set. Only strings, integers, booleans,
	// lists and string-keyed maps are allowed.
	Args []any

	// Call instantiates a class (the instance becomes the artifact) or
	// invokes a function once (the function stays the artifact).
	Call bool

	// Overwrite replaces an existing extension of the same name.
	Overwrite bool

	// MaxDepth overrides the tree's nesting limit for this call.
	MaxDepth int
}

func (o ExtendOptions) symbol() (ir.SymbolKind, string) {
	if o.Class != "" {
		return ir.KindClass, o.Class
	}
	return ir.KindFunc, o.Func
}

// Extension is a handle to an extension node.
type Extension struct {
	t  *Tree
	id NodeID
}

var _ Node = (*Extension)(nil)

func (e *Extension) ID() NodeID { return e.id }
func (e *Extension) Kind() Kind { return KindExtension }

// Name returns the extension's attribute name on its owner.
func (e *Extension) Name() string {
	if n, ok := e.t.nodes[e.id]; ok {
		return n.name
	}
	return ""
}

func (e *Extension) Path() string { return e.t.path(e.id) }

// Owner returns the node the extension is attached to.
func (e *Extension) Owner() Node {
	n, ok := e.t.nodes[e.id]
	if !ok {
		return nil
	}
	return e.t.handle(n.parent)
}

// Meta returns the extraction metadata.
func (e *Extension) Meta() ir.ExtensionMeta {
	if n, ok := e.t.nodes[e.id]; ok {
		return n.ext.meta
	}
	return ir.ExtensionMeta{}
}

// Artifact returns the extracted function or class.
func (e *Extension) Artifact() extract.Artifact {
	if n, ok := e.t.nodes[e.id]; ok {
		return n.ext.artifact
	}
	return nil
}

// Object returns the class instance when the extension was called.
func (e *Extension) Object() (extract.Object, bool) {
	n, ok := e.t.nodes[e.id]
	if !ok || n.ext.object == nil {
		return nil, false
	}
	return n.ext.object, true
}

// Depth is the number of extensions from the owning container or leaf down
// to and including e.
func (e *Extension) Depth() int {
	return e.t.extDepth(e.id)
}

// Remove removes nested extensions first, then detaches e from its owner,
// then syncs.
func (e *Extension) Remove(ctx context.Context) error {
	t := e.t
	if _, err := t.live("remove", e.id); err != nil {
		return err
	}
	path := t.path(e.id)
	t.drop(e.id)
	t.log.Info("removed extension", "path", path)
	return t.sync(ctx)
}

// Extend attaches a nested extension.
func (e *Extension) Extend(ctx context.Context, opts ExtendOptions) (*Extension, error) {
	return e.t.extend(ctx, e.id, opts)
}

// Extension returns the nested extension called name.
func (e *Extension) Extension(name string) (*Extension, bool) {
	return e.t.extension(e.id, name)
}

// Extensions returns nested extensions in insertion order.
func (e *Extension) Extensions() []*Extension {
	return e.t.extensions(e.id)
}

// Get resolves name as a nested extension, then a field of the instance.
func (e *Extension) Get(name string) (any, error) {
	t := e.t
	n, err := t.live("get", e.id)
	if err != nil {
		return nil, err
	}
	if id, ok := n.exts.get(name); ok {
		return &Extension{t: t, id: id}, nil
	}
	if n.ext.object != nil {
		if v, ok := n.ext.object.Attr(name); ok {
			return v, nil
		}
	}
	return nil, newError(ErrCodeNotFound, "get", t.path(e.id), nil, "no attribute %q", name)
}

// Call invokes the nested extension called name, or a method of the
// instance.
func (e *Extension) Call(ctx context.Context, name string, args ...any) (any, error) {
	return e.t.call(ctx, e.id, name, args)
}

// Invoke calls the artifact itself: a function is called (with the owner
// as receiver when it declares one) and a class is instantiated. An
// extension already holding an instance is not callable.
func (e *Extension) Invoke(ctx context.Context, args ...any) (any, error) {
	t := e.t
	n, err := t.live("invoke", e.id)
	if err != nil {
		return nil, err
	}
	path := t.path(e.id)
	list, err := ir.ListFromGo(args)
	if err != nil {
		return nil, newError(ErrCodeValidation, "invoke", path, err, "unsupported argument")
	}
	if n.ext.object != nil {
		return nil, newError(ErrCodeValidation, "invoke", path, nil, "extension holds a %s instance; call one of its methods", n.ext.object.Class())
	}
	out, err := t.invoke(ctx, n.parent, n.ext.artifact, list.Args())
	if err != nil {
		return nil, newError(ErrCodeExtraction, "invoke", path, err, "%s %q", n.ext.meta.Kind, n.ext.meta.Symbol)
	}
	return out, nil
}

// Describe implements extract.Receiver.
func (e *Extension) Describe() map[string]any {
	n, ok := e.t.nodes[e.id]
	if !ok {
		return map[string]any{}
	}
	d := map[string]any{
		"kind":       string(KindExtension),
		"name":       n.name,
		"path":       e.t.path(e.id),
		"symbol":     n.ext.meta.Symbol,
		"source":     n.ext.meta.Source,
		"extensions": namesOf(n.exts),
	}
	if n.ext.object != nil {
		d["fields"] = objectFields(n.ext.object)
	}
	return d
}

func objectFields(o extract.Object) map[string]any {
	out := map[string]any{}
	for _, name := range o.Attrs() {
		if v, ok := o.Attr(name); ok {
			out[name] = v
		}
	}
	return out
}

func (t *Tree) extension(owner NodeID, name string) (*Extension, bool) {
	n, ok := t.nodes[owner]
	if !ok {
		return nil, false
	}
	id, ok := n.exts.get(name)
	if !ok {
		return nil, false
	}
	return &Extension{t: t, id: id}, true
}

func (t *Tree) extensions(owner NodeID) []*Extension {
	n, ok := t.nodes[owner]
	if !ok {
		return nil
	}
	out := make([]*Extension, 0, n.exts.len())
	for _, name := range n.exts.names() {
		id, _ := n.exts.get(name)
		out = append(out, &Extension{t: t, id: id})
	}
	return out
}

// extDepth counts the extension nodes from id up to the first container
// or leaf. A container or leaf has depth 0.
func (t *Tree) extDepth(id NodeID) int {
	d := 0
	for n := t.nodes[id]; n != nil && n.kind == KindExtension; n = t.nodes[n.parent] {
		d++
	}
	return d
}

// ancestorFrom reports whether n or an extension above it was built from
// symbol of a source matched by same.
func (t *Tree) ancestorFrom(n *node, kind ir.SymbolKind, symbol string, same func(ir.ExtensionMeta) bool) bool {
	for ; n != nil && n.kind == KindExtension; n = t.nodes[n.parent] {
		m := n.ext.meta
		if m.Kind == kind && m.Symbol == symbol && same(m) {
			return true
		}
	}
	return false
}

// extend validates everything it can before touching the resolver or the
// extractor, then attaches the new extension and syncs.
func (t *Tree) extend(ctx context.Context, ownerID NodeID, opts ExtendOptions) (*Extension, error) {
	const op = "extend"
	owner, err := t.live(op, ownerID)
	if err != nil {
		return nil, err
	}
	path := t.path(ownerID)

	if (opts.Class == "") == (opts.Func == "") {
		return nil, newError(ErrCodeValidation, op, path, nil, "exactly one of class or func is required")
	}
	kind, symbol := opts.symbol()
	if opts.Source == "" {
		return nil, newError(ErrCodeValidation, op, path, nil, "source is required")
	}
	name := opts.Name
	if name == "" {
		name = symbol
	}
	if err := t.checkName(op, path, name); err != nil {
		return nil, err
	}
	if owner.children != nil && owner.children.has(name) {
		return nil, newError(ErrCodeConflict, op, path, nil, "%q is a child", name)
	}
	prev, exists := owner.exts.get(name)
	if exists && !opts.Overwrite {
		return nil, newError(ErrCodeConflict, op, path, nil, "extension %q exists", name)
	}
	args, err := ir.ListFromGo(opts.Args)
	if err != nil {
		return nil, newError(ErrCodeValidation, op, path, err, "unsupported argument")
	}

	maxDepth := t.maxDepth
	if opts.MaxDepth > 0 {
		maxDepth = opts.MaxDepth
	}
	if depth := t.extDepth(ownerID); depth >= maxDepth {
		return nil, newError(ErrCodeValidation, op, path, nil, "nesting depth %d reaches the limit of %d", depth+1, maxDepth)
	}
	if t.ancestorFrom(owner, kind, symbol, func(m ir.ExtensionMeta) bool { return m.Source == opts.Source }) {
		return nil, newError(ErrCodeValidation, op, path, nil, "circular extension: %s %q from %q is already an ancestor", kind, symbol, opts.Source)
	}

	ctx, span := tracer.Start(ctx, "proxy.extend", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("symbol", symbol),
		attribute.String("source", opts.Source),
	))
	defer span.End()

	res, ok := t.resolver.Resolve(opts.Source)
	if !ok || !res.Valid() {
		return nil, newError(ErrCodeResolution, op, path, nil, "cannot resolve source %q", opts.Source)
	}
	src, err := resource.AsSource(res)
	if err != nil {
		return nil, newError(ErrCodeResolution, op, path, err, "source %q", opts.Source)
	}
	// The locator may be spelled differently from the one an ancestor stored.
	if t.ancestorFrom(owner, kind, symbol, func(m ir.ExtensionMeta) bool {
		return m.Source == src.Locator() || (m.SourceHandle != "" && m.SourceHandle == src.Handle())
	}) {
		return nil, newError(ErrCodeValidation, op, path, nil, "circular extension: %s %q from %q is already an ancestor", kind, symbol, src.Locator())
	}
	artifact, err := t.extractArtifact(ctx, kind, symbol, src)
	if err != nil {
		return nil, newError(ErrCodeExtraction, op, path, err, "%s %q from %q", kind, symbol, opts.Source)
	}

	state := &extState{
		meta: ir.ExtensionMeta{
			Kind:         kind,
			Symbol:       symbol,
			Source:       src.Locator(),
			SourceHandle: src.Handle(),
			Args:         args,
			Call:         opts.Call,
			CreatedAt:    t.clock.Now().UnixMilli(),
		},
		artifact: artifact,
	}
	if opts.Call {
		switch a := artifact.(type) {
		case extract.Class:
			obj, err := a.New(ctx, args.Args()...)
			if err != nil {
				return nil, newError(ErrCodeExtraction, op, path, err, "instantiate %q", symbol)
			}
			state.object = obj
		case extract.Func:
			if _, err := t.invoke(ctx, ownerID, a, args.Args()); err != nil {
				return nil, newError(ErrCodeExtraction, op, path, err, "call %q", symbol)
			}
		}
	}

	if exists {
		t.drop(prev)
	}
	id := t.alloc()
	n := newNode(id, KindExtension, name, ownerID)
	n.ext = state
	t.nodes[id] = n
	owner.exts.put(name, id)
	t.log.Info("extended", "path", joinPath(path, name), "symbol", symbol, "source", state.meta.Source)

	if err := t.sync(ctx); err != nil {
		return nil, err
	}
	return &Extension{t: t, id: id}, nil
}

// extractArtifact runs the extractor and checks the artifact has the
// requested kind.
func (t *Tree) extractArtifact(ctx context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (extract.Artifact, error) {
	artifact, err := t.extractor.Extract(ctx, kind, symbol, src)
	if err == nil {
		switch kind {
		case ir.KindClass:
			if _, ok := artifact.(extract.Class); !ok {
				err = &extract.Error{Code: extract.ErrCodeKindMismatch, Kind: kind, Symbol: symbol, Source: src.Locator()}
			}
		case ir.KindFunc:
			if _, ok := artifact.(extract.Func); !ok {
				err = &extract.Error{Code: extract.ErrCodeKindMismatch, Kind: kind, Symbol: symbol, Source: src.Locator()}
			}
		}
	}
	t.rec.ObserveExtract(kind, err)
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// invoke calls a function (binding the owner when it declares a receiver)
// or instantiates a class.
func (t *Tree) invoke(ctx context.Context, ownerID NodeID, artifact extract.Artifact, args []any) (any, error) {
	switch a := artifact.(type) {
	case extract.Func:
		var self extract.Receiver
		if a.Receiver() {
			self = t.handle(ownerID)
		}
		return a.Call(ctx, self, args...)
	case extract.Class:
		return a.New(ctx, args...)
	}
	return nil, newError(ErrCodeProgramming, "invoke", t.path(ownerID), nil, "unknown artifact %T", artifact)
}

// call resolves name on node id: an extension first, then a method of the
// patched variant or extension instance.
func (t *Tree) call(ctx context.Context, id NodeID, name string, args []any) (any, error) {
	n, err := t.live("call", id)
	if err != nil {
		return nil, err
	}
	if eid, ok := n.exts.get(name); ok {
		return (&Extension{t: t, id: eid}).Invoke(ctx, args...)
	}

	var obj extract.Object
	switch {
	case n.patch != nil:
		obj = n.patch.obj
	case n.ext != nil:
		obj = n.ext.object
	}
	if obj != nil && obj.HasMethod(name) {
		path := t.path(id)
		list, err := ir.ListFromGo(args)
		if err != nil {
			return nil, newError(ErrCodeValidation, "call", path, err, "unsupported argument")
		}
		out, err := obj.Invoke(ctx, name, list.Args()...)
		if err != nil {
			return nil, newError(ErrCodeExtraction, "call", path, err, "%s.%s", obj.Class(), name)
		}
		return out, nil
	}
	return nil, newError(ErrCodeNotFound, "call", t.path(id), nil, "nothing callable named %q", name)
}
