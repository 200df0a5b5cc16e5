// Package harness runs YAML scenarios against a proxy tree.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	resources:
//	  mem/items/a: ""
//	  mem/lib.hcl: |
//	    func "greet" {
//	      receiver = true
//	      result   = "hello ${args[0]} from ${self.path}"
//	    }
//	steps:
//	  - op: add
//	    name: items
//	    locators: [mem/items/a]
//	  - op: extend
//	    at: items.a
//	    func: greet
//	    source: mem/lib.hcl
//	  - op: call
//	    id: hi
//	    at: items.a
//	    name: greet
//	    args: [bob]
//	  - op: add
//	    name: sync
//	    locators: [mem/items/a]
//	    expect_error: VALIDATION
//	assertions:
//	  - type: exists
//	    path: items.a.greet
//	    kind: extension
//	  - type: call_result
//	    id: hi
//	    expect: hello bob from items.a
//	  - type: persisted
//	    path: items.a
//	    expect: { locator: mem/items/a }
//
// # Steps
//
// Tree ops: add, remove, remove_child, extend, patch, call, reconcile,
// restart (reopen the tree from the store) and clear. Resource ops act on
// the in-memory resolver behind the tree: rename, move, delete and edit.
// A step either succeeds or fails with the error code in expect_error.
//
// # Assertion Types
//
//   - exists: a node is reachable at path, optionally of a kind
//   - absent: nothing is reachable at path
//   - persisted: the stored entry at path contains expect (subset match)
//   - call_result: the call step with id returned expect
//
// # Deterministic Testing
//
// Resources are seeded in sorted locator order with sequential handles
// (h-1, h-2, ...) and extensions are timestamped by a deterministic clock,
// so the persisted tree is byte-for-byte reproducible and can be compared
// with golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/add_extend.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
