package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/oproxy/internal/proxy"
)

// ReconcileResult is the output of the reconcile command.
type ReconcileResult struct {
	Path       string `json:"path" yaml:"path"`
	Migrated   int    `json:"migrated" yaml:"migrated"`
	Resources  int    `json:"resources" yaml:"resources"`
	Renamed    int    `json:"renamed" yaml:"renamed"`
	Relocated  int    `json:"relocated" yaml:"relocated"`
	Dropped    int    `json:"dropped" yaml:"dropped"`
	Extensions int    `json:"extensions" yaml:"extensions"`
	Failed     int    `json:"failed" yaml:"failed"`
}

func reconcileResult(path string, st proxy.ReconcileStats) ReconcileResult {
	return ReconcileResult{
		Path:       path,
		Migrated:   st.Migrated,
		Resources:  st.Resources,
		Renamed:    st.Renamed,
		Relocated:  st.Relocated,
		Dropped:    st.Dropped,
		Extensions: st.Extensions,
		Failed:     st.Failed,
	}
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [path]",
		Short: "Rebuild a subtree from storage",
		Long: `Re-resolve every resource and extension below the container at path
(default the root) from the persisted mirror, re-key renamed resources,
drop deleted ones and write the corrections back.

Opening the tree already reconciles the root, so the counts reported here
cover only changes made since.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runReconcile(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.container(path)
	if err != nil {
		return out.Fail("reconcile failed", err)
	}
	stats, err := c.Reconcile(ctx)
	if err != nil {
		return out.Fail("reconcile failed", err)
	}
	return out.Success(reconcileResult(path, stats))
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Show the hierarchy",
		Long: `Print the subtree below the container at path (default the root).

Text output draws the tree; json and yaml output nest containers, leaves
and extensions.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runTree(rootOpts, path, cmd)
		},
	}
	return cmd
}

// Outline is the structured form of a subtree.
type Outline struct {
	Name       string    `json:"name" yaml:"name"`
	Kind       string    `json:"kind" yaml:"kind"`
	Locator    string    `json:"locator,omitempty" yaml:"locator,omitempty"`
	Children   []Outline `json:"children,omitempty" yaml:"children,omitempty"`
	Extensions []Outline `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

func outline(n proxy.Node) Outline {
	o := Outline{Name: n.Name(), Kind: string(n.Kind())}
	switch v := n.(type) {
	case *proxy.Container:
		for _, name := range v.Names() {
			if ch, ok := v.Child(name); ok {
				o.Children = append(o.Children, outline(ch))
			}
		}
	case *proxy.Leaf:
		o.Locator = v.Locator()
	}
	for _, e := range n.Extensions() {
		o.Extensions = append(o.Extensions, outline(e))
	}
	return o
}

func runTree(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.container(path)
	if err != nil {
		return out.Fail("tree failed", err)
	}
	if opts.Format == "text" {
		return out.Success(c.Tree())
	}
	return out.Success(outline(c))
}

// NewStorageCommand creates the storage command.
func NewStorageCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "storage [key]...",
		Short: "Show the persisted mirror",
		Long: `Print the persisted branch of the container at --at (default the root).
With keys, only those top-level entries are printed.

Examples:
  oproxy storage
  oproxy storage --at docs resources --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStorage(rootOpts, path, args, cmd)
		},
	}

	cmd.Flags().StringVar(&path, "at", "", "dotted path of the container (default root)")

	return cmd
}

func runStorage(opts *RootOptions, path string, keys []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.container(path)
	if err != nil {
		return out.Fail("storage failed", err)
	}
	m, err := c.Storage(ctx, keys...)
	if err != nil {
		return out.Fail("storage failed", err)
	}
	return out.Success(m)
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every node and reset storage",
		Long: `Remove every child and extension of the root and restore the persisted
mirror to its empty default. Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "clear removes every node; pass --yes to confirm")
			}
			return runClear(rootOpts, cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the tree")

	return cmd
}

func runClear(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tree.Clear(ctx); err != nil {
		return out.Fail("clear failed", err)
	}
	return out.Success("cleared")
}
