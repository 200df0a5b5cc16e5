// Package naming validates names used for children and extensions of the
// proxy hierarchy.
//
// A name is accepted when it is a valid identifier (letters, digits and
// underscores, not starting with a digit, not a keyword) and is not part of
// the reserved set. The reserved set holds the operation names exposed by
// container, leaf and extension nodes so that a child can never shadow an
// operation when looked up through delegation.
package naming

import (
	"fmt"
	"go/token"
	"slices"
	"strings"
	"unicode"
)

// Validator decides whether a candidate name may be bound in the hierarchy.
type Validator interface {
	IsValidIdentifier(name string) bool
	IsReserved(name string) bool
}

// reserved lists the node operation and property names.
var reserved = []string{
	"add", "call", "children", "clear", "containers", "describe", "extend",
	"extensions", "get", "handle", "is_root", "kind", "leaves", "len",
	"locator", "lookup", "monkey_patch", "name", "names", "parent", "patch",
	"path", "reconcile", "refresh", "remove", "remove_child",
	"remove_children", "resource", "root", "set_all", "storage", "sync", "tree",
	"variant",
}

// Default is the validator used when none is injected.
var Default Validator = NewValidator()

// Rules is the standard Validator. Extra reserved names can be layered on
// top of the built-in set.
type Rules struct {
	extra map[string]struct{}
}

// NewValidator returns a Rules validator reserving the built-in names plus
// any extra names given.
func NewValidator(extra ...string) *Rules {
	r := &Rules{extra: make(map[string]struct{}, len(extra))}
	for _, name := range extra {
		r.extra[name] = struct{}{}
	}
	return r
}

// IsValidIdentifier reports whether name is a non-empty identifier that is
// not a Go keyword.
func (r *Rules) IsValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if c == '_' || unicode.IsLetter(c) {
			continue
		}
		if i > 0 && unicode.IsDigit(c) {
			continue
		}
		return false
	}
	return !token.IsKeyword(name)
}

// IsReserved reports whether name is an operation name or starts with a
// double underscore.
func (r *Rules) IsReserved(name string) bool {
	if strings.HasPrefix(name, "__") {
		return true
	}
	if slices.Contains(reserved, name) {
		return true
	}
	_, ok := r.extra[name]
	return ok
}

// Check returns a descriptive error when name cannot be bound, nil otherwise.
func Check(v Validator, name string) error {
	if v == nil {
		v = Default
	}
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case !v.IsValidIdentifier(name):
		return fmt.Errorf("name %q is not a valid identifier: use letters, digits and underscores, not starting with a digit", name)
	case v.IsReserved(name):
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// Reserved returns a sorted copy of the built-in reserved names.
func Reserved() []string {
	out := slices.Clone(reserved)
	slices.Sort(out)
	return out
}
