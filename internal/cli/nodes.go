package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/oproxy/internal/proxy"
)

// NodeSummary identifies a node in command output.
type NodeSummary struct {
	Path string `json:"path" yaml:"path"`
	Kind string `json:"kind" yaml:"kind"`
}

func summarize(n proxy.Node) NodeSummary {
	return NodeSummary{Path: n.Path(), Kind: string(n.Kind())}
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	At string // parent container path
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <name> <locator>...",
		Short: "Add a container of resources",
		Long: `Add a child container holding one leaf per resource locator.

Locators are relative to resources.root. Leaves are keyed by resource name.
Adding to an existing container merges the new resources into it.

Examples:
  oproxy add docs README.md docs/guide.md
  oproxy add --at docs images docs/logo.png`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "dotted path of the parent container (default root)")

	return cmd
}

func runAdd(opts *AddOptions, name string, locators []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	parent, err := s.container(opts.At)
	if err != nil {
		return out.Fail("add failed", err)
	}
	c, err := parent.AddLocators(ctx, name, locators...)
	if err != nil {
		return out.Fail("add failed", err)
	}
	out.VerboseLog("added %d resource(s) under %q", len(locators), c.Path())
	return out.Success(summarize(c))
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <path>...",
		Short: "Remove nodes",
		Long: `Remove containers, leaves or extensions by dotted path.

Removing a container removes its whole subtree. The root cannot be removed;
use clear instead.

Examples:
  oproxy remove docs.README
  oproxy remove docs.slugify docs.images`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, args, cmd)
		},
	}
	return cmd
}

type remover interface {
	Remove(ctx context.Context) error
}

func runRemove(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	removed := make([]NodeSummary, 0, len(paths))
	for _, path := range paths {
		n, err := s.tree.Lookup(path)
		if err != nil {
			return out.Fail("remove failed", err)
		}
		r, ok := n.(remover)
		if !ok {
			return out.Fail("remove failed", fmt.Errorf("%q cannot be removed", path))
		}
		summary := summarize(n)
		if err := r.Remove(ctx); err != nil {
			return out.Fail("remove failed", err)
		}
		removed = append(removed, summary)
	}
	return out.Success(removed)
}

// ExtendOptions holds flags for the extend command.
type ExtendOptions struct {
	*RootOptions
	Name      string
	Class     string
	Func      string
	Source    string
	Args      string // YAML list
	Call      bool
	Overwrite bool
	MaxDepth  int
}

// NewExtendCommand creates the extend command.
func NewExtendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extend <path>",
		Short: "Attach an extension to a node",
		Long: `Extract a class or function from a source and attach it to the node at
path. The attribute name defaults to the symbol.

With --call a class is instantiated (the instance becomes the extension) and
a function is invoked once. --args is a YAML list.

Examples:
  oproxy extend docs --source lib/text.hcl --func slugify
  oproxy extend docs --source lib/shapes.cue --class Counter --call --args '[3]'
  oproxy extend docs.slugify --source lib/text.hcl --func upper --name shout`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "attribute name (default the symbol)")
	cmd.Flags().StringVar(&opts.Class, "class", "", "class symbol to extract")
	cmd.Flags().StringVar(&opts.Func, "func", "", "function symbol to extract")
	cmd.Flags().StringVar(&opts.Source, "source", "", "locator of the source text (required)")
	cmd.Flags().StringVar(&opts.Args, "args", "", "arguments as a YAML list")
	cmd.Flags().BoolVar(&opts.Call, "call", false, "instantiate the class or invoke the function")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing extension of the same name")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "nesting limit for this extension (default from config)")
	_ = cmd.MarkFlagRequired("source")
	cmd.MarkFlagsMutuallyExclusive("class", "func")

	return cmd
}

func runExtend(opts *ExtendOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	args, err := parseArgs(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.tree.Lookup(path)
	if err != nil {
		return out.Fail("extend failed", err)
	}
	ext, err := n.Extend(ctx, proxy.ExtendOptions{
		Name:      opts.Name,
		Class:     opts.Class,
		Func:      opts.Func,
		Source:    opts.Source,
		Args:      args,
		Call:      opts.Call,
		Overwrite: opts.Overwrite,
		MaxDepth:  opts.MaxDepth,
	})
	if err != nil {
		return out.Fail("extend failed", err)
	}
	return out.Success(summarize(ext))
}

// PatchOptions holds flags for the patch command.
type PatchOptions struct {
	*RootOptions
	At     string
	Class  string
	Source string
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <name>",
		Short: "Swap a child's variant for a class instance",
		Long: `Monkey-patch the child called name: extract a class declaring the
variant matching the child's kind and make an instance of it the child's
runtime behavior. Children and extensions are kept.

Examples:
  oproxy patch docs --source lib/variants.hcl --class Catalog
  oproxy patch --at docs README --source lib/variants.hcl --class Page`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "dotted path of the parent container (default root)")
	cmd.Flags().StringVar(&opts.Class, "class", "", "variant class symbol (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "locator of the source text (required)")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runPatch(opts *PatchOptions, name string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	parent, err := s.container(opts.At)
	if err != nil {
		return out.Fail("patch failed", err)
	}
	n, err := parent.MonkeyPatch(ctx, name, proxy.PatchOptions{Class: opts.Class, Source: opts.Source})
	if err != nil {
		return out.Fail("patch failed", err)
	}
	return out.Success(summarize(n))
}

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Args string // YAML list
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <path> <name>",
		Short: "Call an extension or variant method",
		Long: `Invoke the extension or patched-variant method called name on the node
at path and print the result. --args is a YAML list.

Examples:
  oproxy call docs slugify --args '["Hello World"]'
  oproxy call docs.counter incr`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "arguments as a YAML list")

	return cmd
}

func runCall(opts *CallOptions, path, name string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	args, err := parseArgs(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.tree.Lookup(path)
	if err != nil {
		return out.Fail("call failed", err)
	}
	v, err := n.Call(ctx, name, args...)
	if err != nil {
		return out.Fail("call failed", err)
	}
	if node, ok := v.(proxy.Node); ok {
		return out.Success(summarize(node))
	}
	return out.Success(v)
}

// parseArgs decodes a YAML list. Empty input means no arguments.
func parseArgs(text string) ([]any, error) {
	if text == "" {
		return nil, nil
	}
	var args []any
	if err := yaml.Unmarshal([]byte(text), &args); err != nil {
		return nil, fmt.Errorf("args must be a YAML list: %w", err)
	}
	return args, nil
}
