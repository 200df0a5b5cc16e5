// Package store provides the persistent map the proxy tree is mirrored into.
//
// A Map is a small key/value surface with get, set and restore-default
// semantics plus synchronous change observers. Values are opaque bytes;
// the proxy package writes canonical JSON under a single key.
//
// Backends:
//   - Memory: process-local, used by tests and the scenario harness
//   - SQLite: durable single-file store (see OpenSQLite)
//   - badgerkv: embedded BadgerDB store (subpackage)
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Each write bumps a per-key revision so callers can tell whether a value
// changed since they last read it.
package store
