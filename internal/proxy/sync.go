package proxy

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oproxy/internal/ir"
)

// Snapshot serializes the in-memory tree.
func (t *Tree) Snapshot() ir.TreeRecord {
	return ir.TreeRecord{
		Version: ir.FormatVersion,
		Root:    t.containerRecord(t.nodes[t.root]),
	}
}

// Encode returns the canonical JSON of Snapshot, byte-identical to what Sync
// writes.
func (t *Tree) Encode() ([]byte, error) {
	return t.Snapshot().Encode()
}

func (t *Tree) containerRecord(n *node) ir.ContainerRecord {
	rec := ir.NewContainer()
	for _, name := range n.children.names() {
		id, _ := n.children.get(name)
		child := t.nodes[id]
		switch child.kind {
		case KindContainer:
			rec.Children[name] = t.containerRecord(child)
		case KindResource:
			rec.Resources[name] = t.resourceRecord(child)
		}
	}
	rec.Extensions = t.extensionRecords(n)
	rec.Patch = patchRecord(n)
	return rec
}

func (t *Tree) resourceRecord(n *node) ir.ResourceRecord {
	return ir.ResourceRecord{
		Locator:    n.locator,
		Handle:     n.handle,
		Extensions: t.extensionRecords(n),
		Patch:      patchRecord(n),
	}
}

func (t *Tree) extensionRecords(n *node) map[string]ir.ExtensionRecord {
	out := make(map[string]ir.ExtensionRecord, n.exts.len())
	for _, name := range n.exts.names() {
		id, _ := n.exts.get(name)
		ext := t.nodes[id]
		out[name] = ir.ExtensionRecord{
			Meta:       ext.ext.meta,
			Extensions: t.extensionRecords(ext),
		}
	}
	return out
}

func patchRecord(n *node) *ir.PatchRecord {
	if n.patch == nil {
		return nil
	}
	rec := n.patch.rec
	return &rec
}

// sync writes the whole tree under the tree's key. A sync started while
// another one is running returns immediately.
func (t *Tree) sync(ctx context.Context) error {
	if t.syncing {
		t.log.Debug("sync already running, skipping nested sync")
		return nil
	}
	t.syncing = true
	defer func() { t.syncing = false }()

	ctx, span := tracer.Start(ctx, "proxy.sync", trace.WithAttributes(
		attribute.String("key", t.key),
		attribute.Int("nodes", len(t.nodes)),
	))
	defer span.End()

	start := time.Now()
	data, err := t.Encode()
	if err != nil {
		err = newError(ErrCodeStorage, "sync", "", err, "encode tree")
		t.rec.ObserveSync(time.Since(start), 0, err)
		return err
	}
	if err := t.store.Set(ctx, t.key, data); err != nil {
		err = newError(ErrCodeStorage, "sync", "", err, "write %q", t.key)
		span.RecordError(err)
		t.rec.ObserveSync(time.Since(start), len(data), err)
		return err
	}
	t.rec.ObserveSync(time.Since(start), len(data), nil)
	t.log.Debug("synced tree", "key", t.key, "bytes", len(data))
	return nil
}

// load reads and decodes the persisted tree without migrating it.
func (t *Tree) load(ctx context.Context) (ir.TreeRecord, error) {
	data, ok, err := t.store.Get(ctx, t.key)
	if err != nil {
		return ir.TreeRecord{}, newError(ErrCodeStorage, "load", "", err, "read %q", t.key)
	}
	if !ok {
		return ir.NewTree(), nil
	}
	rec, err := ir.DecodeTree(data)
	if err != nil {
		return ir.TreeRecord{}, newError(ErrCodeStorage, "load", "", err, "decode %q", t.key)
	}
	return rec, nil
}

// migrate upgrades a record read from storage to the current format.
// Legacy resource entries (bare locators) are resolved and rewritten with
// their handle; entries that no longer resolve are dropped. It returns the
// number of entries rewritten or dropped.
func (t *Tree) migrate(rec ir.TreeRecord) (ir.TreeRecord, int) {
	changed := t.migrateContainer("", &rec.Root)
	if rec.Version != ir.FormatVersion {
		t.log.Info("migrated persisted tree", "from", rec.Version, "to", ir.FormatVersion)
		rec.Version = ir.FormatVersion
	}
	return rec, changed
}

func (t *Tree) migrateContainer(path string, c *ir.ContainerRecord) int {
	changed := 0
	for name, res := range c.Resources {
		if !res.Legacy {
			continue
		}
		changed++
		r, ok := t.resolver.Resolve(res.Locator)
		if !ok || !r.Valid() {
			t.log.Warn("dropping unresolvable legacy resource", "path", joinPath(path, name), "locator", res.Locator)
			delete(c.Resources, name)
			continue
		}
		res.Locator = r.Locator()
		res.Handle = r.Handle()
		res.Legacy = false
		c.Resources[name] = res
	}
	for name, child := range c.Children {
		changed += t.migrateContainer(joinPath(path, name), &child)
		c.Children[name] = child
	}
	return changed
}

// filterKeys returns v as plain data, restricted to keys when any are
// given.
func filterKeys(op, path string, v ir.Map, keys []string) (map[string]any, error) {
	all, _ := ir.ToGo(v).(map[string]any)
	if len(keys) == 0 {
		return all, nil
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		val, ok := all[k]
		if !ok {
			return nil, newError(ErrCodeNotFound, op, path, nil, "no key %q", k)
		}
		out[k] = val
	}
	return out, nil
}
