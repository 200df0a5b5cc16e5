package harness

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/proxy"
	"github.com/roach88/oproxy/internal/resource"
	"github.com/roach88/oproxy/internal/store"
	"github.com/roach88/oproxy/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and sequential handles.
type Harness struct {
	res    *resource.Memory
	store  *store.Map
	x      extract.Extractor
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	tree   *proxy.Tree
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory resolver and store.
//
// Execution flow:
// 1. Seed resources in sorted locator order (handles h-1, h-2, ...)
// 2. Open the tree from the empty store
// 3. Execute steps, checking expected error codes
// 4. Evaluate assertions and capture the persisted tree
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger for the tree. A nil logger
// discards output.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Harness{
		res:    resource.NewMemory(&resource.SequenceGenerator{}),
		store:  store.NewMemoryMap(),
		x:      extract.Default(nil, 0),
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
	}
	defer h.store.Close()

	for _, loc := range slices.Sorted(maps.Keys(scenario.Resources)) {
		h.res.Put(loc, scenario.Resources[loc])
	}

	if err := h.open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open tree: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	persisted, _, err := h.store.Get(ctx, proxy.DefaultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted tree: %w", err)
	}
	result.Persisted = persisted

	actx := &AssertionContext{Tree: h.tree}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	tr, err := proxy.Open(ctx, h.store, h.res, h.x,
		proxy.WithLogger(h.logger),
		proxy.WithClock(h.clock),
	)
	if err != nil {
		return err
	}
	h.tree = tr
	return nil
}

// executeStep runs one step and records it in the trace. A step failing
// with an unexpected code, or succeeding when a failure was expected, is a
// scenario error rather than a harness error.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	out, err := h.apply(ctx, step)

	ev := TraceEvent{Seq: int64(i + 1), Op: step.Op, At: step.At, Name: step.Name, Outcome: OutcomeOK}
	if err != nil {
		ev.Outcome = string(proxy.CodeOf(err))
		if ev.Outcome == "" {
			ev.Outcome = "ERROR"
		}
	}

	switch {
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Op, err))
	case err != nil && ev.Outcome != step.ExpectError:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s: %v", i, step.Op, step.ExpectError, ev.Outcome, err))
	case err == nil && step.ExpectError != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got success", i, step.Op, step.ExpectError))
	}

	if err == nil && step.Op == OpCall {
		plain, cerr := plainValue(out)
		if cerr != nil {
			return fmt.Errorf("call result: %w", cerr)
		}
		ev.Result = plain
		id := step.ID
		if id == "" {
			id = joinPath(step.At, step.Name)
		}
		result.Calls[id] = plain
	}
	result.AddTrace(ev)

	h.logger.Debug("scenario step", "step", i, "op", step.Op, "at", step.At, "outcome", ev.Outcome)
	return nil
}

// apply performs the step. Only call returns a value.
func (h *Harness) apply(ctx context.Context, s Step) (any, error) {
	switch s.Op {
	case OpAdd:
		c, err := h.container(s.At)
		if err != nil {
			return nil, err
		}
		_, err = c.AddLocators(ctx, s.Name, s.Locators...)
		return nil, err

	case OpRemove:
		n, err := h.tree.Lookup(s.At)
		if err != nil {
			return nil, err
		}
		r, ok := n.(interface{ Remove(context.Context) error })
		if !ok {
			return nil, fmt.Errorf("node %q cannot be removed", s.At)
		}
		return nil, r.Remove(ctx)

	case OpRemoveChild:
		c, err := h.container(s.At)
		if err != nil {
			return nil, err
		}
		if len(s.Names) > 0 {
			return nil, c.RemoveChildren(ctx, s.Names...)
		}
		return nil, c.RemoveChild(ctx, s.Name)

	case OpExtend:
		n, err := h.tree.Lookup(s.At)
		if err != nil {
			return nil, err
		}
		_, err = n.Extend(ctx, proxy.ExtendOptions{
			Name:      s.Name,
			Class:     s.Class,
			Func:      s.Func,
			Source:    s.Source,
			Args:      s.Args,
			Call:      s.Call,
			Overwrite: s.Overwrite,
			MaxDepth:  s.MaxDepth,
		})
		return nil, err

	case OpPatch:
		c, err := h.container(s.At)
		if err != nil {
			return nil, err
		}
		_, err = c.MonkeyPatch(ctx, s.Name, proxy.PatchOptions{
			Class:  s.Class,
			Source: s.Source,
			Func:   s.Func,
			Args:   s.Args,
			Call:   s.Call,
		})
		return nil, err

	case OpCall:
		n, err := h.tree.Lookup(s.At)
		if err != nil {
			return nil, err
		}
		return n.Call(ctx, s.Name, s.Args...)

	case OpRename:
		_, err := h.res.Rename(s.Locator, s.To)
		return nil, err
	case OpMove:
		return nil, h.res.Move(s.Locator, s.To)
	case OpDelete:
		return nil, h.res.Delete(s.Locator)
	case OpEdit:
		h.res.Put(s.Locator, s.Text)
		return nil, nil

	case OpReconcile:
		c, err := h.container(s.At)
		if err != nil {
			return nil, err
		}
		_, err = c.Reconcile(ctx)
		return nil, err

	case OpRestart:
		return nil, h.open(ctx)
	case OpClear:
		return nil, h.tree.Clear(ctx)
	}
	return nil, fmt.Errorf("unknown op %q", s.Op)
}

func (h *Harness) container(path string) (*proxy.Container, error) {
	n, err := h.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	c, ok := n.(*proxy.Container)
	if !ok {
		return nil, fmt.Errorf("%q is a %s, not a container", path, n.Kind())
	}
	return c, nil
}

// plainValue normalizes a call result into the shapes YAML and JSON
// produce, so it compares equal to a scenario's expect value. Nodes are
// reported by path.
func plainValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case proxy.Node:
		return val.Path(), nil
	}
	iv, err := ir.FromGo(v)
	if err != nil {
		return nil, err
	}
	return ir.ToGo(iv), nil
}

func joinPath(at, name string) string {
	if at == "" {
		return name
	}
	return at + "." + name
}
