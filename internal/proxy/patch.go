package proxy

import (
	"context"
	"fmt"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// PatchOptions names the variant class for MonkeyPatch. Func, Args and Call
// exist only so callers passing extend-style options get a clear error.
type PatchOptions struct {
	Class  string
	Source string

	Func string
	Args []any
	Call bool
}

// MonkeyPatch swaps the runtime variant of the child called name for an
// instance of an extracted class. The class must declare the variant
// matching the child's kind. Children, extensions and ownership are kept.
// A child can be patched once; remove and re-add it to patch again.
func (c *Container) MonkeyPatch(ctx context.Context, name string, opts PatchOptions) (Node, error) {
	const op = "monkey_patch"
	t := c.t
	n, err := t.live(op, c.id)
	if err != nil {
		return nil, err
	}
	path := t.path(c.id)

	switch {
	case opts.Func != "":
		return nil, newError(ErrCodeValidation, op, path, nil, "only a class can patch a node, got func %q", opts.Func)
	case len(opts.Args) > 0 || opts.Call:
		return nil, newError(ErrCodeValidation, op, path, nil, "args and call are not accepted")
	case opts.Class == "":
		return nil, newError(ErrCodeValidation, op, path, nil, "class is required")
	case opts.Source == "":
		return nil, newError(ErrCodeValidation, op, path, nil, "source is required")
	}
	if n.exts.has(name) {
		return nil, newError(ErrCodeValidation, op, path, nil, "%q is an extension; extensions cannot be patched", name)
	}
	childID, ok := n.children.get(name)
	if !ok {
		return nil, newError(ErrCodeNotFound, op, path, nil, "no child %q", name)
	}
	child := t.nodes[childID]
	if child.patch != nil {
		return nil, newError(ErrCodeConflict, op, path, nil, "%q is already patched by %s", name, child.patch.rec.Class)
	}

	res, ok := t.resolver.Resolve(opts.Source)
	if !ok || !res.Valid() {
		return nil, newError(ErrCodeResolution, op, path, nil, "cannot resolve source %q", opts.Source)
	}
	src, err := resource.AsSource(res)
	if err != nil {
		return nil, newError(ErrCodeResolution, op, path, err, "source %q", opts.Source)
	}

	state, err := t.instantiatePatch(ctx, child, ir.PatchRecord{
		Class:        opts.Class,
		Source:       src.Locator(),
		SourceHandle: src.Handle(),
	}, src)
	if err != nil {
		code := ErrCodeExtraction
		if IsValidation(err) {
			code = ErrCodeValidation
		}
		return nil, newError(code, op, path, err, "patch %q", name)
	}
	child.patch = state
	t.log.Info("patched", "path", t.path(childID), "class", opts.Class, "source", state.rec.Source)

	if err := t.sync(ctx); err != nil {
		return nil, err
	}
	return t.handle(childID), nil
}

// instantiatePatch extracts rec.Class from src, checks its variant against
// the node kind and creates the variant instance.
func (t *Tree) instantiatePatch(ctx context.Context, n *node, rec ir.PatchRecord, src resource.Source) (*patchState, error) {
	artifact, err := t.extractArtifact(ctx, ir.KindClass, rec.Class, src)
	if err != nil {
		return nil, err
	}
	class := artifact.(extract.Class)

	want := extract.VariantContainer
	if n.kind == KindResource {
		want = extract.VariantResource
	}
	if class.Variant() != want {
		got := string(class.Variant())
		if got == "" {
			got = "none"
		}
		return nil, newError(ErrCodeValidation, "monkey_patch", t.path(n.id), nil,
			"class %q has variant %s, need %s", rec.Class, got, want)
	}

	obj, err := class.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate %q: %w", rec.Class, err)
	}
	return &patchState{rec: rec, obj: obj}, nil
}

// variantOf returns the patch class of n, "" when unpatched.
func variantOf(n *node) string {
	if n.patch == nil {
		return ""
	}
	return n.patch.rec.Class
}
