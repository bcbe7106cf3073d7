package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/output"
	"github.com/docdex/docdex/internal/search"
)

// searchOptions holds the CLI flags for search.
type searchOptions struct {
	topK     int
	docTypes []string
	mode     string
	db       string
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the indexed documentation",
		Long: `Run a semantic query against the vector index. The query is embedded
with the same backend that built the index and matched by cosine distance.`,
		Example: `  docdex search "how does authentication work"
  docdex search "deployment steps" -t deployment -t guide -k 5
  docdex search "error codes" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSearch(ctx, cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of matches to return (default 10)")
	cmd.Flags().StringSliceVarP(&opts.docTypes, "type", "t", nil, "Filter by doc type (repeatable)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Embedding mode: local-only, local-preferred, remote-only")
	cmd.Flags().StringVar(&opts.db, "db", "", "Database path (defaults to config database.path)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return errors.ValidationError(fmt.Sprintf("unknown format %q (use text or json)", opts.format), nil)
	}

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

	dbPath := opts.db
	if dbPath == "" {
		dbPath = cfg.ResolveDatabasePath(root)
	}

	router, err := embed.NewRouterFromConfig(cfg, slog.Default())
	if err != nil {
		return err
	}
	engine, err := search.NewEngine(search.EngineDependencies{
		Config: cfg,
		Router: router,
	})
	if err != nil {
		return err
	}

	// Retrieval never prompts: an unhealthy local backend in local-preferred
	// mode surfaces a confirmation-required error instead of a fallback
	// question mid-query. Use --mode remote-only to query remotely.
	result, err := engine.Search(ctx, dbPath, query, search.Options{
		TopK:     opts.topK,
		DocTypes: opts.docTypes,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderSearchResult(output.New(cmd.OutOrStdout()), result)
	return nil
}

func renderSearchResult(out *output.Writer, result *search.Result) {
	if result.TotalMatches == 0 {
		out.Warningf("No matches for %q", result.Query)
		return
	}

	out.Linef("%d matches for %q", result.TotalMatches, result.Query)
	if len(result.Filters) > 0 {
		out.Linef("filtered to: %s", strings.Join(result.Filters, ", "))
	}
	out.Newline()

	for i, m := range result.Matches {
		out.Linef("%2d. [%3.0f%%] %s - %s", i+1, m.Relevance, m.SourceFile, m.SectionPath)
		out.Linef("    type %s, chunk %d", m.DocType, m.ChunkIndex)
		if m.ContentPreview != "" {
			out.Linef("    %s", m.ContentPreview)
		}
		out.Newline()
	}
}
