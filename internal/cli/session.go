package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/oproxy/internal/config"
	"github.com/roach88/oproxy/internal/extract"
	"github.com/roach88/oproxy/internal/logging"
	"github.com/roach88/oproxy/internal/metrics"
	"github.com/roach88/oproxy/internal/proxy"
	"github.com/roach88/oproxy/internal/resource/fsres"
	"github.com/roach88/oproxy/internal/store"
	"github.com/roach88/oproxy/internal/store/badgerkv"
)

// session is an opened tree plus everything it was built from.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Map
	res      *fsres.Resolver
	registry *prometheus.Registry
	tree     *proxy.Tree
}

// openSession loads the configuration, opens the configured store and
// opens (reconciling) the tree. Failures are command errors.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Log)

	backend, err := openBackend(cfg.Store, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	st := store.New(backend)

	res, err := fsres.New(cfg.Resources.Root, logger)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open resource root", err)
	}

	registry := prometheus.NewRegistry()
	tr, err := proxy.Open(ctx, st, res, extract.Default(extract.NewRegistry(), cfg.Extensions.CacheTTL),
		proxy.WithLogger(logger),
		proxy.WithMaxDepth(cfg.Extensions.MaxDepth),
		proxy.WithKey(cfg.Store.Key),
		proxy.WithRecorder(metrics.New(registry)),
	)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open tree", err)
	}

	logger.Debug("session opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path, "root", res.Root(), "nodes", tr.Len())
	return &session{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		res:      res,
		registry: registry,
		tree:     tr,
	}, nil
}

func openBackend(cfg config.StoreConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendBadger:
		bc := badgerkv.DefaultConfig()
		bc.Path = cfg.Path
		bc.Logger = logger
		return badgerkv.Open(bc)
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		return store.OpenSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Close closes the store.
func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// container resolves path to a container node.
func (s *session) container(path string) (*proxy.Container, error) {
	n, err := s.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	c, ok := n.(*proxy.Container)
	if !ok {
		return nil, fmt.Errorf("%q is a %s, not a container", path, n.Kind())
	}
	return c, nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
