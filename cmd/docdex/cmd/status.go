package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/output"
	"github.com/docdex/docdex/internal/store"
)

// indexStatus is the machine-readable shape of `docdex status --json`.
type indexStatus struct {
	Database   string    `json:"database"`
	SizeBytes  int64     `json:"size_bytes"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Long:  `Show the state of the vector index: document and chunk counts, the embedding model and dimensions it was built with, and the database size.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStatus(ctx, cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.ResolveDatabasePath(root)

	out := output.New(cmd.OutOrStdout())

	meta, err := store.ReadMetadata(ctx, dbPath)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeDatabaseMissing {
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{"database": dbPath, "state": "not built"})
			}
			out.Warningf("Index not built yet (%s)", dbPath)
			out.Status("", "Run: docdex index")
			return nil
		}
		return err
	}

	st, err := store.Open(ctx, store.Config{
		Path:                dbPath,
		EmbeddingModel:      meta.EmbeddingModel,
		EmbeddingDimensions: meta.EmbeddingDimensions,
	})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	status := indexStatus{
		Database:   dbPath,
		Model:      meta.EmbeddingModel,
		Dimensions: meta.EmbeddingDimensions,
		CreatedAt:  meta.CreatedAt,
	}
	if status.Documents, err = st.DocumentCount(ctx); err != nil {
		return err
	}
	if status.Chunks, err = st.ChunkCount(ctx); err != nil {
		return err
	}
	if info, statErr := os.Stat(dbPath); statErr == nil {
		status.SizeBytes = info.Size()
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Field("Database", status.Database)
	out.Field("Size", formatBytes(status.SizeBytes))
	out.Field("Documents", status.Documents)
	out.Field("Chunks", status.Chunks)
	out.Field("Model", status.Model)
	out.Field("Dimensions", status.Dimensions)
	out.Field("Created", status.CreatedAt.Format(time.RFC3339))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
