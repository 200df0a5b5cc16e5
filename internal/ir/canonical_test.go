package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool", Bool(false), "false"},
		{"empty list", List{}, "[]"},
		{"empty map", Map{}, "{}"},
		{"nested", Map{"b": List{Int(1)}, "a": Map{"z": Bool(true), "y": String("")}}, `{"a":{"y":"","z":true},"b":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html not escaped", "<a>&</a>", `"<a>&</a>"`},
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline tab", "a\nb\tc", `"a\nb\tc"`},
		{"control", "\x01", `"\u0001"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalNFC(t *testing.T) {
	// "e" + combining acute normalizes to a single code point.
	decomposed := "e\u0301"
	got, err := Marshal(Map{decomposed: String(decomposed)})
	require.NoError(t, err)
	assert.Equal(t, "{\"\u00e9\":\"\u00e9\"}", string(got))
}

func TestMarshalRejectsNil(t *testing.T) {
	_, err := Marshal(Map{"a": nil})
	require.Error(t, err)
}

func TestMarshalAny(t *testing.T) {
	got, err := MarshalAny(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, string(got))

	_, err = MarshalAny(1.5)
	require.Error(t, err)
}

// Decoding canonical output and encoding it again yields identical bytes.
func TestMarshalUnmarshalStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := valueGen(3).Draw(rt, "value")
		first, err := Marshal(v)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		back, err := Unmarshal(first)
		if err != nil {
			rt.Fatalf("unmarshal %s: %v", first, err)
		}
		second, err := Marshal(back)
		if err != nil {
			rt.Fatalf("re-marshal: %v", err)
		}
		if string(first) != string(second) {
			rt.Fatalf("unstable encoding: %s != %s", first, second)
		}
	})
}

func valueGen(depth int) *rapid.Generator[Value] {
	scalar := rapid.OneOf(
		rapid.Map(rapid.String(), func(s string) Value { return String(s) }),
		rapid.Map(rapid.Int64(), func(n int64) Value { return Int(n) }),
		rapid.Map(rapid.Bool(), func(b bool) Value { return Bool(b) }),
	)
	if depth == 0 {
		return scalar
	}
	inner := valueGen(depth - 1)
	return rapid.OneOf(
		scalar,
		rapid.Map(rapid.SliceOfN(inner, 0, 4), func(l []Value) Value { return List(l) }),
		rapid.Map(rapid.MapOfN(rapid.StringMatching(`[a-z]{1,6}`), inner, 0, 4), func(m map[string]Value) Value { return Map(m) }),
	)
}
