// Package resource defines how the hierarchy sees externally owned
// resources and ships two resolvers: an in-memory one for tests and
// embedding, and a filesystem one in fsres.
//
// A resource is addressed by a locator (a path-like string that changes when
// the resource is renamed or moved) and identified by a handle (an opaque
// string that survives renames). Resolvers must be idempotent and free of
// side effects.
package resource

import "errors"

// Resource is an externally owned addressable object.
type Resource interface {
	// Valid reports whether the resource still exists.
	Valid() bool
	// Name is the resource's current short name.
	Name() string
	// Locator is the resource's current address.
	Locator() string
	// Handle is an identity that survives renames and moves.
	Handle() string
}

// Source is a resource that holds source text for code extraction.
type Source interface {
	Resource
	Text() (string, error)
}

// Attributer is implemented by resources that expose named attributes.
type Attributer interface {
	Attr(name string) (any, bool)
}

// Mutable is implemented by resources whose attributes can be written.
type Mutable interface {
	SetAttr(name string, value any) error
}

// Resolver looks resources up by locator or by handle.
type Resolver interface {
	Resolve(locator string) (Resource, bool)
	ResolveHandle(handle string) (Resource, bool)
}

// ErrNotSource is returned when a resolved resource carries no text.
var ErrNotSource = errors.New("resource is not a text source")

// Ref names a resource to bind: either an already resolved Resource or a
// locator to resolve.
type Ref struct {
	Resource Resource
	Locator  string
}

// ByLocator returns a Ref resolved at bind time.
func ByLocator(locator string) Ref {
	return Ref{Locator: locator}
}

// Of returns a Ref for an already resolved resource.
func Of(r Resource) Ref {
	return Ref{Resource: r}
}

// Locators converts locator strings into refs.
func Locators(locators ...string) []Ref {
	refs := make([]Ref, len(locators))
	for i, l := range locators {
		refs[i] = ByLocator(l)
	}
	return refs
}

// String returns the locator the ref points at.
func (r Ref) String() string {
	if r.Resource != nil {
		return r.Resource.Locator()
	}
	return r.Locator
}

// Lookup resolves a locator and falls back to the handle when the locator
// fails or yields an invalid resource. It reports whether the locator path
// was used.
func Lookup(res Resolver, locator, handle string) (Resource, bool, bool) {
	if locator != "" {
		if r, ok := res.Resolve(locator); ok && r.Valid() {
			return r, true, true
		}
	}
	if handle != "" {
		if r, ok := res.ResolveHandle(handle); ok && r.Valid() {
			return r, false, true
		}
	}
	return nil, false, false
}

// AsSource resolves r into a Source.
func AsSource(r Resource) (Source, error) {
	src, ok := r.(Source)
	if !ok {
		return nil, ErrNotSource
	}
	return src, nil
}
