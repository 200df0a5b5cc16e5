package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
	"github.com/roach88/oproxy/internal/store"
	"github.com/roach88/oproxy/internal/testutil"
)

const (
	libSource = "mem/lib"
	hclSource = "mem/funcs.hcl"
)

const hclFuncs = `
func "greet" {
  receiver = true
  result   = "hello ${args[0]} from ${self.path}"
}
`

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

// countingExtractor records how often extraction was attempted.
type countingExtractor struct {
	next  extract.Extractor
	calls int
}

func (c *countingExtractor) Extract(ctx context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (extract.Artifact, error) {
	c.calls++
	return c.next.Extract(ctx, kind, symbol, src)
}

type fixture struct {
	tree  *Tree
	res   *resource.Memory
	store *store.Map
	x     *countingExtractor
	opts  []Option

	helloCalls int
}

// newFixture returns an empty tree over an in-memory store and a resolver
// holding a few resources, a native symbol library and an HCL source.
func newFixture(t testingT, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		res: testutil.NewResolver(map[string]string{
			"mem/items/a": "",
			"mem/items/b": "",
			"mem/items/c": "",
			"mem/dup/a":   "",
			"mem/op1":     "",
			"mem/other":   "",
			libSource:     "",
			hclSource:     hclFuncs,
		}),
		store: store.NewMemoryMap(),
	}

	reg := extract.NewRegistry()
	reg.RegisterFunc("", "hello", false, func(context.Context, extract.Receiver, []any) (any, error) {
		f.helloCalls++
		return "hello", nil
	})
	reg.RegisterFunc("", "whoami", true, func(_ context.Context, self extract.Receiver, _ []any) (any, error) {
		return self.Describe()["path"], nil
	})
	reg.RegisterFunc("", "fail", false, func(context.Context, extract.Receiver, []any) (any, error) {
		return nil, errors.New("boom")
	})
	reg.RegisterClass("", "Greeter", extract.VariantNone, func(_ context.Context, args []any) (*extract.Instance, error) {
		greeting := "hi"
		if len(args) > 0 {
			greeting, _ = args[0].(string)
		}
		return extract.NewInstance("Greeter", map[string]any{"greeting": greeting}, map[string]extract.Method{
			"greet": func(_ context.Context, self *extract.Instance, args []any) (any, error) {
				g, _ := self.Attr("greeting")
				return fmt.Sprintf("%v %v", g, args[0]), nil
			},
		}), nil
	})
	reg.RegisterClass("", "Bucket", extract.VariantContainer, func(context.Context, []any) (*extract.Instance, error) {
		return extract.NewInstance("Bucket", map[string]any{"flavor": "bucket"}, map[string]extract.Method{
			"size": func(context.Context, *extract.Instance, []any) (any, error) {
				return int64(42), nil
			},
		}), nil
	})
	reg.RegisterClass("", "Tracked", extract.VariantResource, func(context.Context, []any) (*extract.Instance, error) {
		return extract.NewInstance("Tracked", map[string]any{"tracked": true}, nil), nil
	})

	f.x = &countingExtractor{next: extract.Default(reg, 0)}
	f.opts = append([]Option{WithClock(testutil.NewDeterministicClock())}, opts...)
	f.tree = New(f.store, f.res, f.x, f.opts...)
	return f
}

// reopen builds a second tree over the same store, resolver and
// extractor, the way a new session would.
func (f *fixture) reopen(t testingT) *Tree {
	t.Helper()
	tr, err := Open(context.Background(), f.store, f.res, f.x, f.opts...)
	require.NoError(t, err)
	return tr
}

// persisted decodes what is currently stored under the default key.
func (f *fixture) persisted(t testingT) ir.TreeRecord {
	t.Helper()
	data, ok, err := f.store.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	require.True(t, ok, "nothing persisted")
	rec, err := ir.DecodeTree(data)
	require.NoError(t, err)
	return rec
}

// seed writes raw JSON under the default key.
func (f *fixture) seed(t testingT, raw string) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), DefaultKey, []byte(raw)))
}

// items adds the standard "items" container holding a, b and c.
func (f *fixture) items(t testingT) *Container {
	t.Helper()
	c, err := f.tree.Root().AddLocators(context.Background(), "items", "mem/items/a", "mem/items/b", "mem/items/c")
	require.NoError(t, err)
	return c
}

func mustLeaf(t testingT, c *Container, name string) *Leaf {
	t.Helper()
	l, ok := c.Leaf(name)
	require.True(t, ok, "no leaf %q", name)
	return l
}

// failingStore accepts reads and rejects writes.
type failingStore struct {
	*store.Map
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

// lockedStore rejects restoring defaults.
type lockedStore struct {
	*store.Map
}

func (lockedStore) RestoreDefault(context.Context, string) error {
	return errors.New("locked")
}

// countingRecorder counts observations.
type countingRecorder struct {
	syncs, syncErrs, extracts, reconciles int
	last                                  ReconcileStats
}

func (r *countingRecorder) ObserveSync(_ time.Duration, _ int, err error) {
	r.syncs++
	if err != nil {
		r.syncErrs++
	}
}

func (r *countingRecorder) ObserveExtract(ir.SymbolKind, error) { r.extracts++ }

func (r *countingRecorder) ObserveReconcile(stats ReconcileStats, _ error) {
	r.reconciles++
	r.last = stats
}
