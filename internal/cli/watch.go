package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/oproxy/internal/metrics"
	"github.com/roach88/oproxy/internal/proxy"
	"github.com/roach88/oproxy/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile whenever resources change",
		Long: `Watch resources.root and reconcile the tree after every burst of file
changes (debounced by watch.debounce). Hidden directories are ignored.

When metrics.addr is set, Prometheus metrics are served on /metrics.

Example:
  oproxy watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.logger

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if addr := s.cfg.Metrics.Addr; addr != "" {
		srv := serveMetrics(addr, s)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("error stopping metrics server", "error", err)
			}
		}()
	}

	w, err := watch.New(watch.Config{
		Root:     s.cfg.Resources.Root,
		Debounce: s.cfg.Watch.Debounce,
		Logger:   log,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	changes, err := w.Start()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start watcher", err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			log.Error("error stopping watcher", "error", err)
		}
	}()

	out := opts.formatter(cmd)
	log.Info("watching", "root", s.res.Root(), "debounce", s.cfg.Watch.Debounce)
	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes. Press Ctrl-C to stop.")

	after := func(stats proxy.ReconcileStats, err error) {
		if err != nil || !stats.Dirty() {
			return
		}
		out.VerboseLog("reconciled: %d renamed, %d relocated, %d dropped", stats.Renamed, stats.Relocated, stats.Dropped)
	}
	if err := watch.Loop(ctx, changes, s.tree, log, after); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "watch error", err)
	}

	log.Info("watch stopped gracefully")
	return nil
}

func serveMetrics(addr string, s *session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
