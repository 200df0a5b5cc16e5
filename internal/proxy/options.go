package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/naming"
)

// DefaultMaxDepth bounds extension nesting when no other limit is set.
const DefaultMaxDepth = 10

// DefaultKey is the persistent-map key the tree is stored under.
const DefaultKey = "oproxies"

// Store is the persistent map a Tree mirrors itself into.
// Implemented by store.Map.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	RestoreDefault(ctx context.Context, key string) error
}

// Clock stamps extension creation times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder receives operational measurements. Implemented by
// metrics.Recorder.
type Recorder interface {
	ObserveSync(d time.Duration, size int, err error)
	ObserveExtract(kind ir.SymbolKind, err error)
	ObserveReconcile(stats ReconcileStats, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSync(time.Duration, int, error)  {}
func (nopRecorder) ObserveExtract(ir.SymbolKind, error)    {}
func (nopRecorder) ObserveReconcile(ReconcileStats, error) {}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) {
		if l != nil {
			t.log = l
		}
	}
}

// WithValidator replaces the naming rules.
func WithValidator(v naming.Validator) Option {
	return func(t *Tree) {
		if v != nil {
			t.names = v
		}
	}
}

// WithClock sets the clock used for extension timestamps.
func WithClock(c Clock) Option {
	return func(t *Tree) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tree) {
		if r != nil {
			t.rec = r
		}
	}
}

// WithMaxDepth sets the default extension nesting limit.
//
// Default: 10 (DefaultMaxDepth). ExtendOptions.MaxDepth overrides it per call.
func WithMaxDepth(n int) Option {
	return func(t *Tree) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

// WithKey sets the persistent-map key.
func WithKey(key string) Option {
	return func(t *Tree) {
		if key != "" {
			t.key = key
		}
	}
}
