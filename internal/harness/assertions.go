package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/proxy"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Executed steps for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", ev.Seq, ev.Op, ev.At, ev.Name, ev.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides the live tree for node assertions.
type AssertionContext struct {
	Tree *proxy.Tree
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertExists, AssertAbsent:
			if actx == nil || actx.Tree == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a tree", i, assertion.Type)
			} else if assertion.Type == AssertExists {
				err = assertExists(actx.Tree, assertion, result.Trace)
			} else {
				err = assertAbsent(actx.Tree, assertion, result.Trace)
			}
		case AssertPersisted:
			err = assertPersisted(result, assertion)
		case AssertCallResult:
			err = assertCallResult(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertExists(tree *proxy.Tree, a Assertion, trace []TraceEvent) error {
	n, err := tree.Lookup(a.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertExists,
			Expected: fmt.Sprintf("node at %q", a.Path),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	if a.Kind != "" && string(n.Kind()) != a.Kind {
		return &AssertionError{
			Type:     AssertExists,
			Expected: fmt.Sprintf("%s at %q", a.Kind, a.Path),
			Actual:   fmt.Sprintf("%s at %q", n.Kind(), a.Path),
			Trace:    trace,
		}
	}
	return nil
}

func assertAbsent(tree *proxy.Tree, a Assertion, trace []TraceEvent) error {
	n, err := tree.Lookup(a.Path)
	if err == nil {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("nothing at %q", a.Path),
			Actual:   fmt.Sprintf("%s at %q", n.Kind(), n.Path()),
			Trace:    trace,
		}
	}
	return nil
}

// assertPersisted walks the stored tree along Path and checks that the
// branch contains Expect (subset semantics).
func assertPersisted(result *Result, a Assertion) error {
	if len(result.Persisted) == 0 {
		return &AssertionError{Type: AssertPersisted, Expected: "a persisted tree", Actual: "nothing stored"}
	}
	rec, err := ir.DecodeTree(result.Persisted)
	if err != nil {
		return fmt.Errorf("persisted: %w", err)
	}
	branch, err := persistedBranch(ir.ToGo(rec.Value()), a.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertPersisted,
			Expected: fmt.Sprintf("stored entry at %q", a.Path),
			Actual:   err.Error(),
		}
	}
	if !matchSubset(a.Expect, branch) {
		got, _ := ir.MarshalAny(branch)
		return &AssertionError{
			Type:     AssertPersisted,
			Expected: fmt.Sprintf("%q to contain %v", a.Path, a.Expect),
			Actual:   string(got),
		}
	}
	return nil
}

// persistedBranch follows a dotted path through children, resources and
// extensions, in that order, like proxy.Tree.Lookup does.
func persistedBranch(root any, path string) (any, error) {
	cur := root
	if path == "" {
		return cur, nil
	}
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q is not an object", seg)
		}
		next, found := lookupIn(m, "children", seg)
		if !found {
			next, found = lookupIn(m, "resources", seg)
		}
		if !found {
			next, found = lookupIn(m, "extensions", seg)
		}
		if !found {
			return nil, fmt.Errorf("no stored entry %q", seg)
		}
		cur = next
	}
	return cur, nil
}

func lookupIn(m map[string]any, group, name string) (any, bool) {
	g, ok := m[group].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := g[name]
	return v, ok
}

func assertCallResult(result *Result, a Assertion) error {
	got, ok := result.Calls[a.ID]
	if !ok {
		return &AssertionError{
			Type:     AssertCallResult,
			Expected: fmt.Sprintf("call %q to have run", a.ID),
			Actual:   "no result recorded",
			Trace:    result.Trace,
		}
	}
	if !matchSubset(a.Expect, got) {
		return &AssertionError{
			Type:     AssertCallResult,
			Expected: fmt.Sprintf("%v (type %T)", a.Expect, a.Expect),
			Actual:   fmt.Sprintf("%v (type %T)", got, got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchSubset reports whether actual contains expected. Maps match when
// every expected key matches; lists match element-wise; scalars match when
// their canonical encodings are equal, so int and int64 compare equal.
func matchSubset(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, ev := range exp {
			av, exists := act[key]
			if !exists || !matchSubset(ev, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(exp[i], act[i]) {
				return false
			}
		}
		return true
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	eb, err := ir.MarshalAny(expected)
	if err != nil {
		return false
	}
	ab, err := ir.MarshalAny(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(eb, ab)
}
