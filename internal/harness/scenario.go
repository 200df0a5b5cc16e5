package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios seed an in-memory resource tree, drive a proxy hierarchy through
// a sequence of steps and assert on the resulting nodes and persisted state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Resources maps locators to source text. Handles are assigned in
	// sorted locator order, so they are stable across runs.
	Resources map[string]string `yaml:"resources"`

	// Steps run in order against the tree.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final tree and persisted state.
	// Supported types: exists, absent, persisted, call_result
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the tree or on the resource set.
type Step struct {
	// Op selects the operation; see the Op constants.
	Op string `yaml:"op"`

	// At is the dotted path of the node the op applies to. Empty is the root.
	At string `yaml:"at,omitempty"`

	// Name is the child, extension or attribute name.
	Name string `yaml:"name,omitempty"`

	// Names lists several children for remove_child.
	Names []string `yaml:"names,omitempty"`

	// Locators are the resources for add.
	Locators []string `yaml:"locators,omitempty"`

	// Func, Class, Source, Args, Call, Overwrite and MaxDepth feed extend
	// and patch.
	Func      string `yaml:"func,omitempty"`
	Class     string `yaml:"class,omitempty"`
	Source    string `yaml:"source,omitempty"`
	Args      []any  `yaml:"args,omitempty"`
	Call      bool   `yaml:"call,omitempty"`
	Overwrite bool   `yaml:"overwrite,omitempty"`
	MaxDepth  int    `yaml:"max_depth,omitempty"`

	// ID keys the result of a call step for call_result assertions.
	ID string `yaml:"id,omitempty"`

	// Locator, To and Text drive the resource ops rename, move, delete and
	// edit.
	Locator string `yaml:"locator,omitempty"`
	To      string `yaml:"to,omitempty"`
	Text    string `yaml:"text,omitempty"`

	// ExpectError is the error code the step must fail with. Empty means
	// the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step op constants.
const (
	OpAdd         = "add"
	OpRemove      = "remove"
	OpRemoveChild = "remove_child"
	OpExtend      = "extend"
	OpPatch       = "patch"
	OpCall        = "call"
	OpRename      = "rename"
	OpMove        = "move"
	OpDelete      = "delete"
	OpEdit        = "edit"
	OpReconcile   = "reconcile"
	OpRestart     = "restart"
	OpClear       = "clear"
)

// Assertion validates the final tree or persisted state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "exists": a node is reachable at Path, optionally of Kind
	// - "absent": nothing is reachable at Path
	// - "persisted": the stored branch at Path contains Expect
	// - "call_result": the call step with ID returned Expect
	Type string `yaml:"type"`

	// Path is a dotted node path (exists, absent, persisted).
	Path string `yaml:"path,omitempty"`

	// Kind optionally restricts exists to container, resource or extension.
	Kind string `yaml:"kind,omitempty"`

	// ID names a call step (call_result).
	ID string `yaml:"id,omitempty"`

	// Expect is the expected value. For persisted it is a subset match:
	// only the keys given are compared.
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertExists     = "exists"
	AssertAbsent     = "absent"
	AssertPersisted  = "persisted"
	AssertCallResult = "call_result"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "assertion:" vs "assertions:" is caught.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	ids := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		if step.ID != "" {
			if ids[step.ID] {
				return fmt.Errorf("steps[%d]: duplicate id %q", i, step.ID)
			}
			ids[step.ID] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
		if assertion.Type == AssertCallResult && !ids[assertion.ID] {
			return fmt.Errorf("assertions[%d]: no call step with id %q", i, assertion.ID)
		}
	}
	return nil
}

// validateStep checks the fields each op needs.
func validateStep(index int, s *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, field, s.Op)
		}
		return nil
	}

	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpAdd:
		if err := need("name", s.Name); err != nil {
			return err
		}
		if len(s.Locators) == 0 {
			return fmt.Errorf("steps[%d]: locators are required for add", index)
		}
	case OpRemoveChild:
		if s.Name == "" && len(s.Names) == 0 {
			return fmt.Errorf("steps[%d]: name or names is required for remove_child", index)
		}
	case OpExtend:
		if err := need("source", s.Source); err != nil {
			return err
		}
	case OpPatch:
		if err := need("name", s.Name); err != nil {
			return err
		}
	case OpCall:
		if err := need("name", s.Name); err != nil {
			return err
		}
	case OpRename, OpMove:
		if err := need("locator", s.Locator); err != nil {
			return err
		}
		if err := need("to", s.To); err != nil {
			return err
		}
	case OpDelete, OpEdit:
		if err := need("locator", s.Locator); err != nil {
			return err
		}
	case OpRemove, OpReconcile, OpRestart, OpClear:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertExists:
		switch a.Kind {
		case "", "container", "resource", "extension":
		default:
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
	case AssertAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for absent", index)
		}
	case AssertPersisted:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for persisted", index)
		}
	case AssertCallResult:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for call_result", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for call_result", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
