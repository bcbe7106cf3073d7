package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/index"
	"github.com/docdex/docdex/internal/ui"
)

// indexOptions holds the CLI flags for index.
type indexOptions struct {
	source string
	db     string
	mode   string
	force  bool
	noTUI  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [source-dir]",
		Short: "Build or update the vector index",
		Long: `Index the Markdown documents of the source directory into the local
vector database.

Unchanged documents are skipped by content fingerprint; use --force to
reprocess everything. When the embedding dimensions change (for example
after switching models), --force also rebuilds the database.`,
		Example: `  # Incremental index with the configured backend
  docdex index

  # Rebuild from scratch against the remote API
  docdex index --force --mode remote-only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.source = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.db, "db", "", "Database path (defaults to config database.path)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Embedding mode: local-only, local-preferred, remote-only")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Reprocess all documents and rebuild on dimension change")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable the TUI, use plain text output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
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

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithSourceDir(sourceDir),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Router:   router,
	})
	if err != nil {
		return err
	}

	interactive := ui.IsInteractive()
	_, err = runner.Run(ctx, index.RunnerConfig{
		SourceDir:    sourceDir,
		DatabasePath: dbPath,
		Force:        opts.force,
		Interactive:  interactive,
		Confirm:      confirmFallback(cmd.OutOrStdout(), cmd.InOrStdin()),
	})
	return err
}

// confirmFallback prompts before a local-preferred run falls back to the
// remote API. Anything but an explicit yes declines.
func confirmFallback(out io.Writer, in io.Reader) embed.ConfirmFunc {
	return func(_ context.Context, report *embed.Report) (bool, error) {
		fmt.Fprintf(out, "\nLocal embedding backend is unavailable: %s\n", report.FailureDetail())
		if report.Fix != "" {
			fmt.Fprintf(out, "Fix: %s\n", report.Fix)
		}
		fmt.Fprint(out, "Fall back to the remote embedding API? This sends document text to a third party. [y/N]: ")

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
