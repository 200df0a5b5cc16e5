package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// HCL extracts symbols from HCL sources laid out as:
//
//	func "greet" {
//	  receiver = true
//	  result   = "hello ${args[0]} from ${self.path}"
//	}
//
//	class "Counter" {
//	  variant = "resource"
//	  fields  = { count = args[0] }
//
//	  method "next" {
//	    result = self.count + 1
//	  }
//	}
//
// Expressions see args (a tuple), self (the receiver or the instance
// fields) and a small function library.
type HCL struct {
	mu    sync.Mutex
	cache *compiledCache[*hclSource]
}

// NewHCL returns an HCL extractor caching parsed sources for ttl.
func NewHCL(ttl time.Duration) *HCL {
	return &HCL{cache: newCompiledCache[*hclSource](ttl)}
}

type hclSource struct {
	Funcs   []*hclFunc  `hcl:"func,block"`
	Classes []*hclClass `hcl:"class,block"`
	Remain  hcl.Body    `hcl:",remain"`
}

type hclFunc struct {
	Name     string         `hcl:"name,label"`
	Receiver *bool          `hcl:"receiver,optional"`
	Result   hcl.Expression `hcl:"result,optional"`
}

type hclClass struct {
	Name    string         `hcl:"name,label"`
	Variant *string        `hcl:"variant,optional"`
	Fields  hcl.Expression `hcl:"fields,optional"`
	Methods []*hclMethod   `hcl:"method,block"`
}

type hclMethod struct {
	Name   string         `hcl:"name,label"`
	Result hcl.Expression `hcl:"result,optional"`
}

var hclFunctions = map[string]function.Function{
	"concat":    stdlib.ConcatFunc,
	"format":    stdlib.FormatFunc,
	"join":      stdlib.JoinFunc,
	"length":    stdlib.LengthFunc,
	"lower":     stdlib.LowerFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"upper":     stdlib.UpperFunc,
}

// Extract implements Extractor.
func (x *HCL) Extract(_ context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (Artifact, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	locator := src.Locator()
	parsed, err := x.parse(src)
	if err != nil {
		return nil, newError(ErrCodeParseFailed, kind, symbol, locator, "", err)
	}

	fn := findFunc(parsed, symbol)
	class := findClass(parsed, symbol)

	switch kind {
	case ir.KindFunc:
		if fn != nil {
			return &hclFuncArtifact{x: x, def: fn}, nil
		}
		if class != nil {
			return nil, newError(ErrCodeKindMismatch, kind, symbol, locator, "", nil)
		}
	case ir.KindClass:
		if class != nil {
			variant := VariantNone
			if class.Variant != nil {
				variant = Variant(*class.Variant)
				if variant != VariantContainer && variant != VariantResource {
					return nil, newError(ErrCodeParseFailed, kind, symbol, locator, fmt.Sprintf("unknown variant %q", *class.Variant), nil)
				}
			}
			return &hclClassArtifact{x: x, def: class, variant: variant}, nil
		}
		if fn != nil {
			return nil, newError(ErrCodeKindMismatch, kind, symbol, locator, "", nil)
		}
	}
	return nil, newError(ErrCodeSymbolNotFound, kind, symbol, locator, "", nil)
}

func (x *HCL) parse(src resource.Source) (*hclSource, error) {
	text, err := src.Text()
	if err != nil {
		return nil, err
	}
	key := sourceKey(src.Locator(), text)
	if cached, ok := x.cache.get(key); ok {
		return cached, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL([]byte(text), src.Locator())
	if diags.HasErrors() {
		return nil, diags
	}
	var out hclSource
	if diags := gohcl.DecodeBody(file.Body, nil, &out); diags.HasErrors() {
		return nil, diags
	}
	x.cache.set(key, &out)
	return &out, nil
}

func findFunc(src *hclSource, name string) *hclFunc {
	for _, f := range src.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func findClass(src *hclSource, name string) *hclClass {
	for _, c := range src.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// evalHCL evaluates expr with args and self bound. A missing optional
// attribute evaluates to null, which is returned as nil.
func evalHCL(expr hcl.Expression, args []any, self map[string]any) (any, error) {
	if expr == nil {
		return nil, nil
	}
	argVal, err := toCty(normalizeArgs(args))
	if err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	vars := map[string]cty.Value{"args": argVal}
	if self != nil {
		selfVal, err := toCty(self)
		if err != nil {
			return nil, fmt.Errorf("self: %w", err)
		}
		vars["self"] = selfVal
	} else {
		vars["self"] = cty.EmptyObjectVal
	}

	val, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: hclFunctions})
	if diags.HasErrors() {
		return nil, diags
	}
	return fromCty(val)
}

// toCty converts plain Go data into a cty value. Lists become tuples and
// maps become objects so mixed element types are allowed.
func toCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case []any:
		elems := make([]cty.Value, len(val))
		for i, e := range val {
			c, err := toCty(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = c
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(val))
		for k, e := range val {
			c, err := toCty(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("[%q]: %w", k, err)
			}
			attrs[k] = c
		}
		return cty.ObjectVal(attrs), nil
	default:
		conv, err := ir.FromGo(v)
		if err != nil {
			return cty.NilVal, err
		}
		return toCty(ir.ToGo(conv))
	}
}

// fromCty converts a known cty value back into plain Go data via JSON so
// whole numbers stay integers and fractions are rejected.
func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("result is not fully known")
	}
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, err
	}
	val, err := ir.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return ir.ToGo(val), nil
}

type hclFuncArtifact struct {
	x   *HCL
	def *hclFunc
}

func (f *hclFuncArtifact) Kind() ir.SymbolKind { return ir.KindFunc }
func (f *hclFuncArtifact) Symbol() string      { return f.def.Name }

func (f *hclFuncArtifact) Receiver() bool {
	return f.def.Receiver != nil && *f.def.Receiver
}

func (f *hclFuncArtifact) Call(_ context.Context, self Receiver, args ...any) (any, error) {
	var selfData map[string]any
	if f.Receiver() && self != nil {
		selfData = self.Describe()
	}
	out, err := evalHCL(f.def.Result, args, selfData)
	if err != nil {
		return nil, newError(ErrCodeEvalFailed, ir.KindFunc, f.def.Name, "", "", err)
	}
	return out, nil
}

type hclClassArtifact struct {
	x       *HCL
	def     *hclClass
	variant Variant
}

func (c *hclClassArtifact) Kind() ir.SymbolKind { return ir.KindClass }
func (c *hclClassArtifact) Symbol() string      { return c.def.Name }
func (c *hclClassArtifact) Variant() Variant    { return c.variant }

func (c *hclClassArtifact) New(_ context.Context, args ...any) (Object, error) {
	fields := map[string]any{}
	raw, err := evalHCL(c.def.Fields, args, nil)
	if err != nil {
		return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.def.Name, "", "fields", err)
	}
	if raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.def.Name, "", "fields must be an object", nil)
		}
		fields = m
	}

	methods := make(map[string]Method, len(c.def.Methods))
	for _, m := range c.def.Methods {
		expr := m.Result
		name := m.Name
		methods[name] = func(_ context.Context, self *Instance, margs []any) (any, error) {
			out, err := evalHCL(expr, margs, self.Fields())
			if err != nil {
				return nil, newError(ErrCodeEvalFailed, ir.KindClass, c.def.Name, "", "method "+name, err)
			}
			return out, nil
		}
	}
	return NewInstance(c.def.Name, fields, methods), nil
}
