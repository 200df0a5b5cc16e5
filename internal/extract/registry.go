package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// NativeFunc is the Go signature of a registered function. self is nil
// when the function was registered without a receiver.
type NativeFunc func(ctx context.Context, self Receiver, args []any) (any, error)

// Constructor builds an Instance from positional arguments.
type Constructor func(ctx context.Context, args []any) (*Instance, error)

// Registry holds Go-native symbols. A symbol may be registered globally or
// scoped to one source locator; scoped registrations win.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]*nativeFunc
	classes map[string]*nativeClass
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[string]*nativeFunc),
		classes: make(map[string]*nativeClass),
	}
}

func scopedKey(source, symbol string) string {
	if source == "" {
		return symbol
	}
	return source + "#" + symbol
}

// RegisterFunc registers fn under symbol. A non-empty source scopes it.
func (r *Registry) RegisterFunc(source, symbol string, receiver bool, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[scopedKey(source, symbol)] = &nativeFunc{symbol: symbol, receiver: receiver, fn: fn}
}

// RegisterClass registers a class under symbol. A non-empty source scopes it.
func (r *Registry) RegisterClass(source, symbol string, variant Variant, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[scopedKey(source, symbol)] = &nativeClass{symbol: symbol, variant: variant, ctor: ctor}
}

// Lookup finds a registered symbol, preferring one scoped to source.
func (r *Registry) Lookup(kind ir.SymbolKind, source, symbol string) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range []string{scopedKey(source, symbol), symbol} {
		switch kind {
		case ir.KindFunc:
			if f, ok := r.funcs[key]; ok {
				return f, true
			}
		case ir.KindClass:
			if c, ok := r.classes[key]; ok {
				return c, true
			}
		}
	}
	return nil, false
}

// Extract implements Extractor.
func (r *Registry) Extract(_ context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (Artifact, error) {
	locator := src.Locator()
	if a, ok := r.Lookup(kind, locator, symbol); ok {
		return a, nil
	}
	other := ir.KindClass
	if kind == ir.KindClass {
		other = ir.KindFunc
	}
	if _, ok := r.Lookup(other, locator, symbol); ok {
		return nil, newError(ErrCodeKindMismatch, kind, symbol, locator, fmt.Sprintf("registered as %s", other), nil)
	}
	return nil, newError(ErrCodeSymbolNotFound, kind, symbol, locator, "not registered", nil)
}

type nativeFunc struct {
	symbol   string
	receiver bool
	fn       NativeFunc
}

func (f *nativeFunc) Kind() ir.SymbolKind { return ir.KindFunc }
func (f *nativeFunc) Symbol() string      { return f.symbol }
func (f *nativeFunc) Receiver() bool      { return f.receiver }

func (f *nativeFunc) Call(ctx context.Context, self Receiver, args ...any) (any, error) {
	if !f.receiver {
		self = nil
	}
	return f.fn(ctx, self, args)
}

type nativeClass struct {
	symbol  string
	variant Variant
	ctor    Constructor
}

func (c *nativeClass) Kind() ir.SymbolKind { return ir.KindClass }
func (c *nativeClass) Symbol() string      { return c.symbol }
func (c *nativeClass) Variant() Variant    { return c.variant }

func (c *nativeClass) New(ctx context.Context, args ...any) (Object, error) {
	if c.ctor == nil {
		return NewInstance(c.symbol, nil, nil), nil
	}
	inst, err := c.ctor(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", c.symbol, err)
	}
	if inst.class == "" {
		inst.class = c.symbol
	}
	return inst, nil
}
