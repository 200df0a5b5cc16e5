package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/oproxy/internal/naming"
)

var propLocators = []string{"mem/items/a", "mem/items/b", "mem/items/c", "mem/op1", "mem/other"}

func childNameGen(exclude ...string) *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9_]{0,8}`).Filter(func(s string) bool {
		for _, e := range exclude {
			if s == e {
				return false
			}
		}
		return naming.Check(naming.Default, s) == nil
	})
}

func locatorsGen() *rapid.Generator[[]string] {
	return rapid.SliceOfNDistinct(rapid.SampledFrom(propLocators), 1, len(propLocators), rapid.ID[string])
}

func TestProperty_AddThenRemoveRestoresTree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		ctx := context.Background()
		root := f.tree.Root()
		_, err := root.AddLocators(ctx, "base", "mem/op1")
		require.NoError(rt, err)

		before, err := f.tree.Encode()
		require.NoError(rt, err)
		names := root.Names()

		name := childNameGen("base").Draw(rt, "name")
		_, err = root.AddLocators(ctx, name, locatorsGen().Draw(rt, "locators")...)
		require.NoError(rt, err)
		require.NoError(rt, root.RemoveChild(ctx, name))

		after, err := f.tree.Encode()
		require.NoError(rt, err)
		assert.Equal(rt, string(before), string(after))
		assert.Equal(rt, names, root.Names())

		stored, _, err := f.store.Get(ctx, DefaultKey)
		require.NoError(rt, err)
		assert.Equal(rt, string(before), string(stored))
	})
}

func TestProperty_ReAddIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		ctx := context.Background()
		root := f.tree.Root()
		name := childNameGen().Draw(rt, "name")
		locs := locatorsGen().Draw(rt, "locators")

		c, err := root.AddLocators(ctx, name, locs...)
		require.NoError(rt, err)
		first, err := f.tree.Encode()
		require.NoError(rt, err)
		ids := map[string]NodeID{}
		for _, l := range c.Leaves() {
			ids[l.Name()] = l.ID()
		}

		again, err := root.AddLocators(ctx, name, locs...)
		require.NoError(rt, err)
		second, err := f.tree.Encode()
		require.NoError(rt, err)

		assert.Equal(rt, c.ID(), again.ID())
		assert.Equal(rt, string(first), string(second))
		for _, l := range again.Leaves() {
			assert.Equal(rt, ids[l.Name()], l.ID())
		}
	})
}

func TestProperty_SerializeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		ctx := context.Background()
		root := f.tree.Root()

		containers := rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"alpha", "beta", "gamma"}), 1, 3, rapid.ID[string]).Draw(rt, "containers")
		for _, cname := range containers {
			c, err := root.AddLocators(ctx, cname, locatorsGen().Draw(rt, cname)...)
			require.NoError(rt, err)
			for _, leaf := range c.Leaves() {
				switch rapid.IntRange(0, 2).Draw(rt, leaf.Path()) {
				case 1:
					_, err = leaf.Extend(ctx, ExtendOptions{Func: "hello", Source: libSource, Call: rapid.Bool().Draw(rt, leaf.Path()+".call")})
				case 2:
					arg := rapid.StringMatching(`[a-z]{0,5}`).Draw(rt, leaf.Path()+".arg")
					_, err = leaf.Extend(ctx, ExtendOptions{Class: "Greeter", Source: libSource, Args: []any{arg}, Call: true})
				}
				require.NoError(rt, err)
			}
		}

		want, err := f.tree.Encode()
		require.NoError(rt, err)

		got, err := f.reopen(rt).Encode()
		require.NoError(rt, err)
		assert.Equal(rt, string(want), string(got))
	})
}

func TestProperty_ClassAndFuncRejectedBeforeExtraction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		class := rapid.StringMatching(`[A-Z][a-z]{0,6}`).Draw(rt, "class")
		fn := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "func")

		_, err := f.tree.Root().Extend(context.Background(), ExtendOptions{Class: class, Func: fn, Source: libSource})
		require.Error(rt, err)
		assert.True(rt, IsValidation(err))
		assert.Zero(rt, f.x.calls)
	})
}
