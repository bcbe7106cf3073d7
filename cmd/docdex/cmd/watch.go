package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/index"
	"github.com/docdex/docdex/internal/output"
	"github.com/docdex/docdex/internal/ui"
	"github.com/docdex/docdex/internal/watcher"
)

// watchOptions holds the CLI flags for watch.
type watchOptions struct {
	source       string
	db           string
	mode         string
	interval     time.Duration
	forcePolling bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [source-dir]",
		Short: "Watch the source directory and keep the index fresh",
		Long: `Index the source directory, then watch it for Markdown changes and
re-index incrementally as files are created, edited, or removed.

File changes are detected with native filesystem notifications where
available, falling back to polling otherwise. Press Ctrl-C to stop.`,
		Example: `  docdex watch
  docdex watch --force-polling --interval 5s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.source = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.db, "db", "", "Database path (defaults to config database.path)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Embedding mode: local-only, local-preferred, remote-only")
	cmd.Flags().DurationVar(&opts.interval, "interval", watcher.DefaultPollInterval, "Poll interval when polling is used")
	cmd.Flags().BoolVar(&opts.forcePolling, "force-polling", false, "Use polling even when filesystem notifications are available")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts watchOptions) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Embedding.Mode = opts.mode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	sourceDir := opts.source
	if sourceDir == "" {
		sourceDir = cfg.ResolveSourceDir(root)
	}
	dbPath := opts.db
	if dbPath == "" {
		dbPath = cfg.ResolveDatabasePath(root)
	}

	router, err := embed.NewRouterFromConfig(cfg, slog.Default())
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())

	// Watch mode re-runs the indexer on every batch, so the animated
	// renderer would fight the log stream. Plain output only.
	runOnce := func(ctx context.Context, force bool) (*index.RunnerResult, error) {
		renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true), ui.WithSourceDir(sourceDir)))
		if err := renderer.Start(ctx); err != nil {
			return nil, err
		}
		defer func() { _ = renderer.Stop() }()

		runner, err := index.NewRunner(index.RunnerDependencies{
			Renderer: renderer,
			Config:   cfg,
			Router:   router,
		})
		if err != nil {
			return nil, err
		}
		return runner.Run(ctx, index.RunnerConfig{
			SourceDir:    sourceDir,
			DatabasePath: dbPath,
			Force:        force,
			Interactive:  ui.IsInteractive(),
			Confirm:      confirmFallback(cmd.OutOrStdout(), cmd.InOrStdin()),
		})
	}

	if _, err := runOnce(ctx, false); err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{
		Dir:          sourceDir,
		PollInterval: opts.interval,
		ForcePolling: opts.forcePolling,
		Logger:       slog.Default(),
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	slog.Info("watch_started", "dir", sourceDir, "mode", w.Mode())
	out.Statusf("👀", "Watching %s for changes (%s, Ctrl-C to stop)", sourceDir, w.Mode())

	for {
		select {
		case <-ctx.Done():
			out.Status("", "Stopping watch")
			return nil

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			out.Warningf("watch error: %v", err)

		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range batch {
				out.Statusf("📝", "%s %s", ev.Operation, ev.Path)
			}
			result, err := runOnce(ctx, false)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// An emptied source directory is not fatal in watch mode.
				if errors.GetCode(err) == errors.ErrCodeFileNotFound {
					out.Warningf("no Markdown documents left in %s", sourceDir)
					continue
				}
				out.Errorf("re-index failed: %v", err)
				continue
			}
			if result.DocumentsProcessed > 0 || result.DocumentsRemoved > 0 {
				out.Successf("Re-indexed %d document(s), removed %d, %d chunk(s)",
					result.DocumentsProcessed, result.DocumentsRemoved, result.ChunksCreated)
			}
		}
	}
}
