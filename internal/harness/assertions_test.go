package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"locator": "mem/a",
		"handle":  "h-1",
		"extensions": map[string]any{
			"greet": map[string]any{"metadata": map[string]any{"args": []any{int64(1)}}},
		},
	}

	tests := []struct {
		name     string
		expected any
		want     bool
	}{
		{"subset", map[string]any{"locator": "mem/a"}, true},
		{"nested", map[string]any{"extensions": map[string]any{"greet": map[string]any{}}}, true},
		{"int width", map[string]any{"extensions": map[string]any{"greet": map[string]any{"metadata": map[string]any{"args": []any{1}}}}}, true},
		{"wrong value", map[string]any{"locator": "mem/b"}, false},
		{"missing key", map[string]any{"patch": map[string]any{}}, false},
		{"list length", map[string]any{"extensions": map[string]any{"greet": map[string]any{"metadata": map[string]any{"args": []any{}}}}}, false},
		{"type mismatch", "mem/a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubset(tt.expected, actual))
		})
	}

	assert.True(t, matchSubset(42, int64(42)))
	assert.False(t, matchSubset("42", int64(42)))
	assert.True(t, matchSubset(nil, nil))
	assert.False(t, matchSubset(nil, "x"))
}

func TestPersistedBranch(t *testing.T) {
	root := map[string]any{
		"children": map[string]any{
			"items": map[string]any{
				"resources": map[string]any{
					"a": map[string]any{
						"extensions": map[string]any{"greet": map[string]any{"metadata": map[string]any{}}},
					},
				},
			},
		},
		"extensions": map[string]any{"loud": map[string]any{}},
	}

	got, err := persistedBranch(root, "")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = persistedBranch(root, "items.a.greet")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"metadata": map[string]any{}}, got)

	got, err = persistedBranch(root, "loud")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got)

	_, err = persistedBranch(root, "items.b")
	assert.EqualError(t, err, `no stored entry "b"`)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertExists,
		Expected: `node at "items.a"`,
		Actual:   "missing",
		Trace: []TraceEvent{
			{Seq: 1, Op: OpAdd, Name: "items", Outcome: OutcomeOK},
		},
	}

	want := "Assertion failed: exists\n" +
		"  Expected: node at \"items.a\"\n" +
		"  Actual: missing\n" +
		"\nSteps:\n" +
		"  [1] add  items -> ok\n"
	assert.Equal(t, want, err.Error())
}
