package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// CUE extracts symbols from CUE sources laid out as:
//
//	funcs: greet: {
//		self: _                     // optional: bind the owning node
//		args: [string]
//		result: "hello \(args[0]) from \(self.path)"
//	}
//
//	classes: Counter: {
//		variant: "resource"         // optional: usable as a monkey-patch
//		args: [int]
//		fields: count: args[0]
//		methods: next: {
//			args: []
//			result: fields.count + 1
//		}
//	}
//
// Calling fills args (and self) into the symbol and reads back result.
// Only the named symbol is evaluated.
type CUE struct {
	mu    sync.Mutex // cue values are not safe for concurrent use
	ctx   *cue.Context
	cache *compiledCache[cue.Value]
}

// NewCUE returns a CUE extractor caching compiled sources for ttl.
func NewCUE(ttl time.Duration) *CUE {
	return &CUE{
		ctx:   cuecontext.New(),
		cache: newCompiledCache[cue.Value](ttl),
	}
}

var (
	cueFuncs   = cue.Str("funcs")
	cueClasses = cue.Str("classes")
)

func cuePath(labels ...string) cue.Path {
	sels := make([]cue.Selector, len(labels))
	for i, l := range labels {
		sels[i] = cue.Str(l)
	}
	return cue.MakePath(sels...)
}

// Extract implements Extractor.
func (x *CUE) Extract(_ context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (Artifact, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	locator := src.Locator()
	root, err := x.compile(src)
	if err != nil {
		return nil, newError(ErrCodeParseFailed, kind, symbol, locator, "", err)
	}

	section, other := cueFuncs, cueClasses
	if kind == ir.KindClass {
		section, other = cueClasses, cueFuncs
	}

	sym := root.LookupPath(cue.MakePath(section, cue.Str(symbol)))
	if !sym.Exists() {
		if root.LookupPath(cue.MakePath(other, cue.Str(symbol))).Exists() {
			return nil, newError(ErrCodeKindMismatch, kind, symbol, locator, "", nil)
		}
		return nil, newError(ErrCodeSymbolNotFound, kind, symbol, locator, "", nil)
	}
	if err := sym.Err(); err != nil {
		return nil, newError(ErrCodeParseFailed, kind, symbol, locator, "", err)
	}

	if kind == ir.KindFunc {
		return &cueFunc{
			x:        x,
			symbol:   symbol,
			v:        sym,
			receiver: sym.LookupPath(cuePath("self")).Exists(),
		}, nil
	}

	variant := VariantNone
	if vv := sym.LookupPath(cuePath("variant")); vv.Exists() {
		s, err := vv.String()
		if err != nil {
			return nil, newError(ErrCodeParseFailed, kind, symbol, locator, "variant must be a string", err)
		}
		variant = Variant(s)
		if variant != VariantContainer && variant != VariantResource {
			return nil, newError(ErrCodeParseFailed, kind, symbol, locator, fmt.Sprintf("unknown variant %q", s), nil)
		}
	}
	return &cueClass{x: x, symbol: symbol, v: sym, variant: variant}, nil
}

func (x *CUE) compile(src resource.Source) (cue.Value, error) {
	text, err := src.Text()
	if err != nil {
		return cue.Value{}, err
	}
	key := sourceKey(src.Locator(), text)
	if v, ok := x.cache.get(key); ok {
		return v, nil
	}
	v := x.ctx.CompileString(text, cue.Filename(src.Locator()))
	if err := v.Err(); err != nil {
		return cue.Value{}, err
	}
	x.cache.set(key, v)
	return v, nil
}

// decodeCUE reads a concrete value back into plain Go data.
func decodeCUE(v cue.Value) (any, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, err
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	val, err := ir.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return ir.ToGo(val), nil
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

type cueFunc struct {
	x        *CUE
	symbol   string
	v        cue.Value
	receiver bool
}

func (f *cueFunc) Kind() ir.SymbolKind { return ir.KindFunc }
func (f *cueFunc) Symbol() string      { return f.symbol }
func (f *cueFunc) Receiver() bool      { return f.receiver }

func (f *cueFunc) Call(_ context.Context, self Receiver, args ...any) (any, error) {
	f.x.mu.Lock()
	defer f.x.mu.Unlock()

	v := f.v.FillPath(cuePath("args"), normalizeArgs(args))
	if f.receiver && self != nil {
		v = v.FillPath(cuePath("self"), self.Describe())
	}
	if err := v.Validate(); err != nil {
		return nil, newError(ErrCodeEvalFailed, ir.KindFunc, f.symbol, "", "", err)
	}
	res := v.LookupPath(cuePath("result"))
	if !res.Exists() {
		return nil, nil
	}
	out, err := decodeCUE(res)
	if err != nil {
		return nil, newError(ErrCodeEvalFailed, ir.KindFunc, f.symbol, "", "", err)
	}
	return out, nil
}

type cueClass struct {
	x       *CUE
	symbol  string
	v       cue.Value
	variant Variant
}

func (c *cueClass) Kind() ir.SymbolKind { return ir.KindClass }
func (c *cueClass) Symbol() string      { return c.symbol }
func (c *cueClass) Variant() Variant    { return c.variant }

func (c *cueClass) New(_ context.Context, args ...any) (Object, error) {
	c.x.mu.Lock()
	defer c.x.mu.Unlock()

	filled := c.v.FillPath(cuePath("args"), normalizeArgs(args))
	if err := filled.Validate(); err != nil {
		return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "args", err)
	}

	fields := map[string]any{}
	if fv := filled.LookupPath(cuePath("fields")); fv.Exists() {
		decoded, err := decodeCUE(fv)
		if err != nil {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "fields", err)
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "fields must be a struct", nil)
		}
		fields = m
	}

	methods := map[string]Method{}
	if mv := filled.LookupPath(cuePath("methods")); mv.Exists() {
		iter, err := mv.Fields()
		if err != nil {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "methods", err)
		}
		for iter.Next() {
			name := iter.Selector().Unquoted()
			methods[name] = c.method(name, iter.Value())
		}
	}

	return NewInstance(c.symbol, fields, methods), nil
}

func (c *cueClass) method(name string, mv cue.Value) Method {
	takesSelf := mv.LookupPath(cuePath("self")).Exists()
	return func(_ context.Context, self *Instance, args []any) (any, error) {
		c.x.mu.Lock()
		defer c.x.mu.Unlock()

		v := mv.FillPath(cuePath("args"), normalizeArgs(args))
		if takesSelf {
			v = v.FillPath(cuePath("self"), self.Fields())
		}
		if err := v.Validate(); err != nil {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "method "+name, err)
		}
		res := v.LookupPath(cuePath("result"))
		if !res.Exists() {
			return nil, nil
		}
		out, err := decodeCUE(res)
		if err != nil {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.symbol, "", "method "+name, err)
		}
		return out, nil
	}
}
