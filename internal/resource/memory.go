package resource

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// HandleGenerator produces resource handles for the memory resolver.
type HandleGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered UUIDv7 handles.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator produces "h-1", "h-2", ... for deterministic tests.
type SequenceGenerator struct {
	mu  sync.Mutex
	seq int
}

// Generate returns the next handle in sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("h-%d", g.seq)
}

// Memory is an in-process resolver. Entries are keyed by locator; the
// resource name is the last locator segment with any extension stripped.
// Rename and Move keep the handle so that reconciliation can follow them.
type Memory struct {
	mu       sync.RWMutex
	gen      HandleGenerator
	byLoc    map[string]*entry
	byHandle map[string]*entry
}

type entry struct {
	handle  string
	locator string
	text    string
	attrs   map[string]any
	deleted bool
}

// NewMemory returns an empty resolver. A nil generator uses UUIDv7.
func NewMemory(gen HandleGenerator) *Memory {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Memory{
		gen:      gen,
		byLoc:    make(map[string]*entry),
		byHandle: make(map[string]*entry),
	}
}

// Put creates or replaces the resource at locator and returns its handle.
// Replacing keeps the existing handle.
func (m *Memory) Put(locator, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byLoc[locator]; ok {
		e.text = text
		return e.handle
	}
	e := &entry{
		handle:  m.gen.Generate(),
		locator: locator,
		text:    text,
		attrs:   map[string]any{},
	}
	m.byLoc[locator] = e
	m.byHandle[e.handle] = e
	return e.handle
}

// Move relocates a resource, keeping its handle.
func (m *Memory) Move(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byLoc[from]
	if !ok {
		return fmt.Errorf("move %s: not found", from)
	}
	if _, taken := m.byLoc[to]; taken {
		return fmt.Errorf("move %s: %s already exists", from, to)
	}
	delete(m.byLoc, from)
	e.locator = to
	m.byLoc[to] = e
	return nil
}

// Rename changes the last locator segment, keeping the directory.
func (m *Memory) Rename(locator, newName string) (string, error) {
	to := path.Join(path.Dir(locator), newName)
	if err := m.Move(locator, to); err != nil {
		return "", err
	}
	return to, nil
}

// Delete removes the resource; stale references become invalid.
func (m *Memory) Delete(locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byLoc[locator]
	if !ok {
		return fmt.Errorf("delete %s: not found", locator)
	}
	e.deleted = true
	delete(m.byLoc, locator)
	delete(m.byHandle, e.handle)
	return nil
}

// Locators returns every live locator, sorted.
func (m *Memory) Locators() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.byLoc))
}

// Resolve implements Resolver.
func (m *Memory) Resolve(locator string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byLoc[locator]
	if !ok {
		return nil, false
	}
	return &memResource{m: m, e: e}, true
}

// ResolveHandle implements Resolver.
func (m *Memory) ResolveHandle(handle string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byHandle[handle]
	if !ok {
		return nil, false
	}
	return &memResource{m: m, e: e}, true
}

// memResource is a live view over an entry: renames are visible through
// existing references.
type memResource struct {
	m *Memory
	e *entry
}

func (r *memResource) Valid() bool {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return !r.e.deleted
}

func (r *memResource) Name() string {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return BaseName(r.e.locator)
}

func (r *memResource) Locator() string {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.e.locator
}

func (r *memResource) Handle() string {
	return r.e.handle
}

func (r *memResource) Text() (string, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if r.e.deleted {
		return "", fmt.Errorf("%s: resource deleted", r.e.locator)
	}
	return r.e.text, nil
}

func (r *memResource) Attr(name string) (any, bool) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	switch name {
	case "name":
		return BaseName(r.e.locator), true
	case "locator":
		return r.e.locator, true
	}
	v, ok := r.e.attrs[name]
	return v, ok
}

func (r *memResource) SetAttr(name string, value any) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if name == "name" || name == "locator" {
		return fmt.Errorf("attribute %q is read-only", name)
	}
	r.e.attrs[name] = value
	return nil
}

// BaseName returns the last segment of a slash-separated locator with any
// file extension removed.
func BaseName(locator string) string {
	base := path.Base(strings.TrimRight(locator, "/"))
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
