package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oproxy/internal/ir"
)

const hclSourceText = `
func "hello" {
  result = "hello"
}

func "greet" {
  receiver = true
  result   = "hello ${args[0]} from ${self.path}"
}

func "shout" {
  result = upper(join(" ", args))
}

func "noop" {}

class "Counter" {
  variant = "resource"
  fields  = { count = args[0], label = "counter" }

  method "next" {
    result = self.count + 1
  }

  method "plus" {
    result = self.count + args[0]
  }
}

class "Box" {
  variant = "container"
}
`

func TestHCLFunc(t *testing.T) {
	x := NewHCL(0)
	ctx := context.Background()
	src := source(t, "/src/lib.hcl", hclSourceText)

	a, err := x.Extract(ctx, ir.KindFunc, "hello", src)
	require.NoError(t, err)
	fn := a.(Func)
	assert.False(t, fn.Receiver())
	out, err := fn.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	a, err = x.Extract(ctx, ir.KindFunc, "shout", src)
	require.NoError(t, err)
	out, err = a.(Func).Call(ctx, nil, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "A B", out)

	a, err = x.Extract(ctx, ir.KindFunc, "noop", src)
	require.NoError(t, err)
	out, err = a.(Func).Call(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestHCLFuncReceiver(t *testing.T) {
	x := NewHCL(0)
	a, err := x.Extract(context.Background(), ir.KindFunc, "greet", source(t, "/src/lib.hcl", hclSourceText))
	require.NoError(t, err)
	fn := a.(Func)
	require.True(t, fn.Receiver())

	out, err := fn.Call(context.Background(), fakeReceiver{"path": "items.a"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob from items.a", out)
}

func TestHCLClass(t *testing.T) {
	x := NewHCL(0)
	ctx := context.Background()
	a, err := x.Extract(ctx, ir.KindClass, "Counter", source(t, "/src/lib.hcl", hclSourceText))
	require.NoError(t, err)
	class := a.(Class)
	assert.Equal(t, VariantResource, class.Variant())

	obj, err := class.New(ctx, int64(2))
	require.NoError(t, err)
	count, ok := obj.Attr("count")
	require.True(t, ok)
	assert.Equal(t, int64(2), count)

	out, err := obj.Invoke(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = obj.Invoke(ctx, "plus", int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)
}

func TestHCLClassWithoutFields(t *testing.T) {
	x := NewHCL(0)
	a, err := x.Extract(context.Background(), ir.KindClass, "Box", source(t, "/src/lib.hcl", hclSourceText))
	require.NoError(t, err)
	assert.Equal(t, VariantContainer, a.(Class).Variant())

	obj, err := a.(Class).New(context.Background())
	require.NoError(t, err)
	assert.Empty(t, obj.Attrs())
}

func TestHCLErrors(t *testing.T) {
	x := NewHCL(0)
	ctx := context.Background()
	src := source(t, "/src/lib.hcl", hclSourceText)

	_, err := x.Extract(ctx, ir.KindClass, "hello", src)
	assert.True(t, IsKindMismatch(err))

	_, err = x.Extract(ctx, ir.KindFunc, "missing", src)
	assert.True(t, IsNotFound(err))

	_, err = x.Extract(ctx, ir.KindFunc, "x", source(t, "/src/bad.hcl", `func "x" {`))
	assert.True(t, IsParseError(err))

	_, err = x.Extract(ctx, ir.KindClass, "W", source(t, "/src/w.hcl", `class "W" { variant = "widget" }`))
	assert.True(t, IsParseError(err))
}

func TestHCLEvalError(t *testing.T) {
	x := NewHCL(0)
	a, err := x.Extract(context.Background(), ir.KindFunc, "greet", source(t, "/src/lib.hcl", hclSourceText))
	require.NoError(t, err)

	// No arguments: args[0] is out of range.
	_, err = a.(Func).Call(context.Background(), fakeReceiver{"path": "p"})
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, ErrCodeEvalFailed, xerr.Code)
}

func TestCtyConversion(t *testing.T) {
	in := map[string]any{
		"s": "x",
		"n": int64(3),
		"b": true,
		"l": []any{"a", int64(1)},
	}
	v, err := toCty(in)
	require.NoError(t, err)
	out, err := fromCty(v)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = toCty(1.5)
	require.Error(t, err)
}
