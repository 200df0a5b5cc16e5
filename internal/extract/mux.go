package extract

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// Mux dispatches on the source's file extension. Sources with no matching
// extension go to the fallback, normally a Registry.
type Mux struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewMux returns a mux with no routes.
func NewMux(fallback Extractor) *Mux {
	return &Mux{byExt: make(map[string]Extractor), fallback: fallback}
}

// Default returns a mux routing .cue and .hcl to their extractors and
// everything else to reg (which may be nil).
func Default(reg *Registry, ttl time.Duration) *Mux {
	var fallback Extractor
	if reg != nil {
		fallback = reg
	}
	m := NewMux(fallback)
	m.Handle(".cue", NewCUE(ttl))
	m.Handle(".hcl", NewHCL(ttl))
	return m
}

// Handle routes sources ending in ext (".cue") to x.
func (m *Mux) Handle(ext string, x Extractor) {
	m.byExt[strings.ToLower(ext)] = x
}

// Extract implements Extractor.
func (m *Mux) Extract(ctx context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (Artifact, error) {
	ext := strings.ToLower(path.Ext(src.Locator()))
	if x, ok := m.byExt[ext]; ok {
		return x.Extract(ctx, kind, symbol, src)
	}
	if m.fallback != nil {
		return m.fallback.Extract(ctx, kind, symbol, src)
	}
	return nil, newError(ErrCodeUnsupportedSource, kind, symbol, src.Locator(), "no extractor for "+ext, nil)
}
