package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetLib = `
func "greet" {
  receiver = true
  result   = "hello ${args[0]} from ${self.path}"
}
`

func run(t *testing.T, yaml string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result
}

func TestRun_Minimal(t *testing.T) {
	result := run(t, minimalScenario)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{Seq: 1, Op: OpAdd, Name: "items", Outcome: OutcomeOK}, result.Trace[0])
	assert.JSONEq(t,
		`{"children":{"items":{"children":{},"extensions":{},"resources":{"a":{"extensions":{},"handle":"h-1","locator":"mem/a"}}}},"extensions":{},"resources":{},"version":2}`,
		string(result.Persisted))
}

func TestRun_ExpectedErrorRecorded(t *testing.T) {
	result := run(t, `
name: expected
description: "reserved name"
resources:
  mem/a: ""
steps:
  - op: add
    name: storage
    locators: [mem/a]
    expect_error: VALIDATION
assertions:
  - type: absent
    path: storage
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "VALIDATION", result.Trace[0].Outcome)
}

func TestRun_StepMismatches(t *testing.T) {
	tests := []struct {
		name string
		step string
		want string
	}{
		{
			name: "unexpected error",
			step: "{op: add, name: items, locators: [mem/missing]}",
			want: "unexpected error",
		},
		{
			name: "wrong code",
			step: "{op: add, name: items, locators: [mem/missing], expect_error: CONFLICT}",
			want: "expected CONFLICT, got RESOLUTION",
		},
		{
			name: "unexpected success",
			step: "{op: add, name: items, locators: [mem/a], expect_error: VALIDATION}",
			want: "expected VALIDATION, got success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := run(t, `
name: mismatch
description: "step outcome differs"
resources:
  mem/a: ""
steps:
  - `+tt.step+`
assertions:
  - type: absent
    path: nothing
`)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestRun_CallDefaultsIDToPath(t *testing.T) {
	result := run(t, `
name: call
description: "call without id"
resources:
  mem/a: ""
  mem/lib.hcl: |`+indent(greetLib)+`
steps:
  - {op: add, name: items, locators: [mem/a]}
  - {op: extend, at: items.a, func: greet, source: mem/lib.hcl}
  - {op: call, at: items.a, name: greet, args: [zed]}
assertions:
  - type: exists
    path: items.a.greet
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "hello zed from items.a", result.Calls["items.a.greet"])
	assert.Equal(t, "hello zed from items.a", result.Trace[2].Result)
}

func TestRun_ResourceOpsAndClear(t *testing.T) {
	result := run(t, `
name: resource_ops
description: "move, edit and clear"
resources:
  mem/a: ""
  mem/b: "old"
steps:
  - {op: add, name: items, locators: [mem/a, mem/b]}
  - {op: move, locator: mem/a, to: mem/sub/a}
  - {op: edit, locator: mem/b, text: "new"}
  - {op: reconcile, at: items}
  - {op: move, locator: mem/missing, to: mem/x, expect_error: ERROR}
  - {op: clear}
assertions:
  - type: absent
    path: items
  - type: persisted
    expect: {children: {}, version: 2}
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AssertionFailuresReported(t *testing.T) {
	result := run(t, `
name: failing
description: "assertions that do not hold"
resources:
  mem/a: ""
steps:
  - {op: add, name: items, locators: [mem/a]}
assertions:
  - {type: exists, path: items.b}
  - {type: exists, path: items, kind: resource}
  - {type: absent, path: items.a}
  - {type: persisted, path: items.a, expect: {locator: mem/b}}
  - {type: persisted, path: items.z, expect: {locator: mem/a}}
`)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: exists")
	assert.Contains(t, result.Errors[1], "resource at \"items\"")
	assert.Contains(t, result.Errors[2], "Assertion failed: absent")
	assert.Contains(t, result.Errors[3], `"locator":"mem/a"`)
	assert.Contains(t, result.Errors[4], `no stored entry "z"`)
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/add_extend.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, string(first.Persisted), string(second.Persisted))
	assert.Equal(t, first.Trace, second.Trace)
}

// indent prefixes every line with four spaces for a YAML block scalar.
func indent(s string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += "\n    " + line
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
