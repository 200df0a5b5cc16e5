// Package ir defines the persisted shape of a proxy hierarchy.
//
// The package holds value types and records only. Every other internal
// package may import ir; ir imports nothing internal.
//
// Key constraints:
//   - No float types and no null: values are strings, ints, bools, lists and
//     maps only, so the canonical encoding is stable
//   - All persisted keys use snake_case
//   - One recursive shape serves containers, resources and nested extensions
//
// A persisted tree looks like:
//
//	{
//	  "version": 2,
//	  "children": {"items": {
//	    "children": {},
//	    "resources": {"a": {"locator": "/items/a", "handle": "...", "extensions": {}}},
//	    "extensions": {}
//	  }},
//	  "resources": {},
//	  "extensions": {}
//	}
package ir
