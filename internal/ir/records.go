package ir

import (
	"fmt"
)

// SymbolKind says what an extension extracted from its source.
type SymbolKind string

const (
	KindClass SymbolKind = "class"
	KindFunc  SymbolKind = "func"
)

// Valid reports whether k is one of the known kinds.
func (k SymbolKind) Valid() bool {
	return k == KindClass || k == KindFunc
}

// ExtensionMeta is everything needed to re-derive an extension artifact.
// The artifact itself is never persisted.
type ExtensionMeta struct {
	Kind         SymbolKind
	Symbol       string
	Source       string // last known source locator
	SourceHandle string // identity of the source, survives renames
	Args         List
	Call         bool
	CreatedAt    int64 // unix milliseconds
}

// ExtensionRecord is a persisted extension and its nested extensions.
type ExtensionRecord struct {
	Meta       ExtensionMeta
	Extensions map[string]ExtensionRecord
}

// PatchRecord is a persisted monkey-patch: the variant class and where it
// came from.
type PatchRecord struct {
	Class        string
	Source       string
	SourceHandle string
}

// ResourceRecord is a persisted leaf.
type ResourceRecord struct {
	Locator    string
	Handle     string
	Extensions map[string]ExtensionRecord
	Patch      *PatchRecord

	// Legacy is set when the entry was read as a bare locator string.
	// Such entries carry no handle and must be migrated.
	Legacy bool
}

// ContainerRecord is a persisted container.
type ContainerRecord struct {
	Children   map[string]ContainerRecord
	Resources  map[string]ResourceRecord
	Extensions map[string]ExtensionRecord
	Patch      *PatchRecord
}

// TreeRecord is the root of a persisted hierarchy.
type TreeRecord struct {
	Version int64
	Root    ContainerRecord
}

// NewTree returns an empty record at the current format version.
func NewTree() TreeRecord {
	return TreeRecord{Version: FormatVersion, Root: NewContainer()}
}

// NewContainer returns an empty container record with non-nil maps.
func NewContainer() ContainerRecord {
	return ContainerRecord{
		Children:   map[string]ContainerRecord{},
		Resources:  map[string]ResourceRecord{},
		Extensions: map[string]ExtensionRecord{},
	}
}

// Lookup follows a path of child names from c.
func (c ContainerRecord) Lookup(path []string) (ContainerRecord, bool) {
	cur := c
	for _, seg := range path {
		next, ok := cur.Children[seg]
		if !ok {
			return ContainerRecord{}, false
		}
		cur = next
	}
	return cur, true
}

// Value projects the record into a Map.
func (m ExtensionMeta) Value() Map {
	out := Map{
		string(m.Kind):  String(m.Symbol),
		"source":        String(m.Source),
		"source_handle": String(m.SourceHandle),
		"call":          Bool(m.Call),
		"created_at":    Int(m.CreatedAt),
	}
	args := m.Args
	if args == nil {
		args = List{}
	}
	out["args"] = args
	return out
}

// Value projects the record into a Map.
func (e ExtensionRecord) Value() Map {
	return Map{
		"metadata":   e.Meta.Value(),
		"extensions": extensionsValue(e.Extensions),
	}
}

// Value projects the record into a Map.
func (p PatchRecord) Value() Map {
	return Map{
		"class":         String(p.Class),
		"source":        String(p.Source),
		"source_handle": String(p.SourceHandle),
	}
}

// Value projects the record into a Map.
func (r ResourceRecord) Value() Map {
	out := Map{
		"locator":    String(r.Locator),
		"handle":     String(r.Handle),
		"extensions": extensionsValue(r.Extensions),
	}
	if r.Patch != nil {
		out["patch"] = r.Patch.Value()
	}
	return out
}

// Value projects the record into a Map.
func (c ContainerRecord) Value() Map {
	children := make(Map, len(c.Children))
	for name, child := range c.Children {
		children[name] = child.Value()
	}
	resources := make(Map, len(c.Resources))
	for name, res := range c.Resources {
		resources[name] = res.Value()
	}
	out := Map{
		"children":   children,
		"resources":  resources,
		"extensions": extensionsValue(c.Extensions),
	}
	if c.Patch != nil {
		out["patch"] = c.Patch.Value()
	}
	return out
}

// Value projects the record into a Map with the version at the top level.
func (t TreeRecord) Value() Map {
	out := t.Root.Value()
	out["version"] = Int(t.Version)
	return out
}

// Encode returns the canonical JSON encoding of the tree.
func (t TreeRecord) Encode() ([]byte, error) {
	return Marshal(t.Value())
}

func extensionsValue(exts map[string]ExtensionRecord) Map {
	out := make(Map, len(exts))
	for name, ext := range exts {
		out[name] = ext.Value()
	}
	return out
}

// DecodeTree parses persisted bytes. Empty input yields an empty tree.
// Legacy layouts are read but not rewritten; see the Legacy markers.
func DecodeTree(data []byte) (TreeRecord, error) {
	if len(data) == 0 {
		return NewTree(), nil
	}
	v, err := Unmarshal(data)
	if err != nil {
		return TreeRecord{}, fmt.Errorf("decode tree: %w", err)
	}
	return ParseTree(v)
}

// ParseTree reads a tree from a decoded Value.
func ParseTree(v Value) (TreeRecord, error) {
	m, ok := v.(Map)
	if !ok {
		return TreeRecord{}, fmt.Errorf("tree: expected object, got %T", v)
	}
	root, err := ParseContainer(m)
	if err != nil {
		return TreeRecord{}, err
	}
	version := m.Num("version")
	if version == 0 {
		version = FormatLegacy
	}
	return TreeRecord{Version: version, Root: root}, nil
}

// ParseContainer reads a container record. The legacy "ops" key is merged
// into resources; entries already under "resources" win on collision.
func ParseContainer(m Map) (ContainerRecord, error) {
	rec := NewContainer()

	for name, raw := range m.Sub("children") {
		sub, ok := raw.(Map)
		if !ok {
			return rec, fmt.Errorf("children[%q]: expected object, got %T", name, raw)
		}
		child, err := ParseContainer(sub)
		if err != nil {
			return rec, fmt.Errorf("children[%q]: %w", name, err)
		}
		rec.Children[name] = child
	}

	for _, key := range []string{"resources", "ops"} {
		for name, raw := range m.Sub(key) {
			if _, dup := rec.Resources[name]; dup {
				continue
			}
			res, err := ParseResource(raw)
			if err != nil {
				return rec, fmt.Errorf("%s[%q]: %w", key, name, err)
			}
			rec.Resources[name] = res
		}
	}

	exts, err := parseExtensions(m.Sub("extensions"))
	if err != nil {
		return rec, err
	}
	rec.Extensions = exts

	if p := m.Sub("patch"); p != nil {
		patch := parsePatch(p)
		rec.Patch = &patch
	}
	return rec, nil
}

// ParseResource reads a resource entry in either the structured or the
// bare-locator form.
func ParseResource(v Value) (ResourceRecord, error) {
	switch val := v.(type) {
	case String:
		return ResourceRecord{
			Locator:    string(val),
			Extensions: map[string]ExtensionRecord{},
			Legacy:     true,
		}, nil
	case Map:
		rec := ResourceRecord{
			Locator: val.Str("locator"),
			Handle:  val.Str("handle"),
		}
		if rec.Locator == "" {
			rec.Locator = val.Str("path")
		}
		exts, err := parseExtensions(val.Sub("extensions"))
		if err != nil {
			return rec, err
		}
		rec.Extensions = exts
		if p := val.Sub("patch"); p != nil {
			patch := parsePatch(p)
			rec.Patch = &patch
		}
		return rec, nil
	default:
		return ResourceRecord{}, fmt.Errorf("expected object or locator string, got %T", v)
	}
}

func parseExtensions(m Map) (map[string]ExtensionRecord, error) {
	out := make(map[string]ExtensionRecord, len(m))
	for name, raw := range m {
		sub, ok := raw.(Map)
		if !ok {
			return nil, fmt.Errorf("extensions[%q]: expected object, got %T", name, raw)
		}
		ext, err := ParseExtension(sub)
		if err != nil {
			return nil, fmt.Errorf("extensions[%q]: %w", name, err)
		}
		out[name] = ext
	}
	return out, nil
}

// ParseExtension reads an extension record. Older layouts stored the
// source under "dat_path" and the class/function under "cls"; both are
// accepted.
func ParseExtension(m Map) (ExtensionRecord, error) {
	meta := m.Sub("metadata")
	if meta == nil {
		return ExtensionRecord{}, fmt.Errorf("missing metadata")
	}

	class := meta.Str("class")
	if class == "" {
		class = meta.Str("cls")
	}
	fn := meta.Str("func")
	var rec ExtensionRecord
	switch {
	case class != "" && fn != "":
		return rec, fmt.Errorf("metadata names both class %q and func %q", class, fn)
	case class != "":
		rec.Meta.Kind, rec.Meta.Symbol = KindClass, class
	case fn != "":
		rec.Meta.Kind, rec.Meta.Symbol = KindFunc, fn
	default:
		return rec, fmt.Errorf("metadata names neither class nor func")
	}

	rec.Meta.Source = meta.Str("source")
	if rec.Meta.Source == "" {
		rec.Meta.Source = meta.Str("dat_path")
	}
	rec.Meta.SourceHandle = meta.Str("source_handle")
	rec.Meta.Call = meta.Flag("call")
	rec.Meta.CreatedAt = meta.Num("created_at")
	if args, ok := meta["args"].(List); ok {
		rec.Meta.Args = args
	} else {
		rec.Meta.Args = List{}
	}

	nested, err := parseExtensions(m.Sub("extensions"))
	if err != nil {
		return rec, err
	}
	rec.Extensions = nested
	return rec, nil
}

func parsePatch(m Map) PatchRecord {
	return PatchRecord{
		Class:        m.Str("class"),
		Source:       m.Str("source"),
		SourceHandle: m.Str("source_handle"),
	}
}
