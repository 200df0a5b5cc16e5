package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/oproxy/internal/ir"
)

// HistoryEntry describes one stored version of the tree.
type HistoryEntry struct {
	Revision int    `json:"revision" yaml:"revision"` // 1 is the oldest kept
	Current  bool   `json:"current,omitempty" yaml:"current,omitempty"`
	Format   int64  `json:"format" yaml:"format"`
	Digest   string `json:"digest" yaml:"digest"`
	Bytes    int    `json:"bytes" yaml:"bytes"`
}

type historyList []HistoryEntry

func (h historyList) String() string {
	var b strings.Builder
	for _, e := range h {
		marker := " "
		if e.Current {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %3d  v%d  %s  %d bytes\n", marker, e.Revision, e.Format, e.Digest[:12], e.Bytes)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored versions of the tree",
		Long: `List the superseded versions the store keeps for the tree key, oldest
first, followed by the current one (marked *). Digests are computed over
the canonical encoding, so equal trees share a digest.

The memory backend keeps history for the life of the process only.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	key := s.tree.Key()
	versions, err := s.store.History(ctx, key)
	if err != nil {
		return out.Fail("history failed", err)
	}
	current, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return out.Fail("history failed", err)
	}
	if ok {
		versions = append(versions, current)
	}

	entries := make(historyList, 0, len(versions))
	for i, data := range versions {
		e, err := historyEntry(data)
		if err != nil {
			return out.Fail("history failed", fmt.Errorf("revision %d: %w", i+1, err))
		}
		e.Revision = i + 1
		e.Current = ok && i == len(versions)-1
		entries = append(entries, e)
	}
	if opts.Format == "text" && len(entries) == 0 {
		return out.Success("no stored versions")
	}
	return out.Success(entries)
}

func historyEntry(data []byte) (HistoryEntry, error) {
	rec, err := ir.DecodeTree(data)
	if err != nil {
		return HistoryEntry{}, err
	}
	digest, err := ir.TreeDigest(rec)
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{Format: rec.Version, Digest: digest, Bytes: len(data)}, nil
}
