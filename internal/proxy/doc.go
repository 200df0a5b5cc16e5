// Package proxy implements the proxy hierarchy: a tree of containers and
// resource leaves with extensions attached to any node, mirrored into a
// persistent map and repaired against external state by reconciliation.
//
// # Nodes
//
//   - Container: named children (containers or leaves) plus extensions
//   - Leaf: one external resource plus extensions
//   - Extension: one extracted function or class (or class instance) plus
//     nested extensions
//
// All nodes live in an arena owned by Tree and are addressed by NodeID.
// The exported handle types (*Container, *Leaf, *Extension) are small
// {tree, id} pairs; a handle whose node was removed reports NOT_FOUND.
//
// # Persistence
//
// Every structural mutation rewrites the whole tree into one key of the
// persistent map as canonical JSON (see ir.TreeRecord). Only extension
// metadata is persisted, never the artifacts; reconciliation re-derives
// them through the extractor.
//
// # Concurrency
//
// A Tree is not safe for concurrent use. Callers serialize access. The only
// internal guard is the sync flag that turns a sync triggered from inside
// another sync (for example by a store observer) into a no-op.
package proxy
