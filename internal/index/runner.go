package index

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docdex/docdex/internal/chunk"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/scanner"
	"github.com/docdex/docdex/internal/store"
	"github.com/docdex/docdex/internal/ui"
)

// dimensionProbeText is embedded once when neither the backend nor the stored
// schema reports a vector width.
const dimensionProbeText = "dimension probe"

// StoreOpener opens the vector store. Overridable in tests.
type StoreOpener func(ctx context.Context, cfg store.Config) (*store.Store, error)

// RunnerConfig configures one reindex run.
type RunnerConfig struct {
	SourceDir    string
	DatabasePath string

	// Force reprocesses every document and rebuilds the database on a
	// dimension change.
	Force bool

	// Interactive indicates a human can answer the remote-fallback prompt.
	Interactive bool
	// Confirm is invoked for local-preferred fallback when Interactive.
	Confirm embed.ConfirmFunc
}

// RunnerResult is the outcome of a reindex run.
type RunnerResult struct {
	DocumentsProcessed  int
	DocumentsSkipped    int
	DocumentsFailed     int
	DocumentsRemoved    int
	DocumentsTotal      int
	ChunksCreated       int
	TotalTokens         int
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingRoute      embed.RouteMetadata
	Warnings            []string
	Duration            time.Duration
	Stages              ui.StageTimings
}

// RunnerDependencies are the injected collaborators of a Runner.
type RunnerDependencies struct {
	Renderer ui.Renderer
	Config   *config.Config
	Router   *embed.Router
	// OpenStore defaults to store.Open.
	OpenStore StoreOpener
	Logger    *slog.Logger
}

// Runner executes the reindex pipeline with progress reporting.
type Runner struct {
	renderer  ui.Renderer
	config    *config.Config
	router    *embed.Router
	openStore StoreOpener
	logger    *slog.Logger
}

// NewRunner validates dependencies and creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, errors.InternalError("runner requires a renderer", nil)
	}
	if deps.Config == nil {
		return nil, errors.InternalError("runner requires a config", nil)
	}
	if deps.Router == nil {
		return nil, errors.InternalError("runner requires a router", nil)
	}
	if deps.OpenStore == nil {
		deps.OpenStore = store.Open
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{
		renderer:  deps.Renderer,
		config:    deps.Config,
		router:    deps.Router,
		openStore: deps.OpenStore,
		logger:    deps.Logger,
	}, nil
}

// docWork is one changed document moving through the pipeline.
type docWork struct {
	doc         scanner.Document
	fingerprint string
	chunks      []chunk.Chunk
}

// Run executes the full reindex pipeline.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	result := &RunnerResult{}

	r.logger.Info("reindex_started",
		slog.String("source", cfg.SourceDir),
		slog.String("database", cfg.DatabasePath),
		slog.Bool("force", cfg.Force),
	)

	lock := NewLock(cfg.DatabasePath)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	// Scan.
	scanStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: "scanning " + cfg.SourceDir,
	})
	docs, err := scanner.Discover(cfg.SourceDir)
	if err != nil {
		if stderrors.Is(err, scanner.ErrNoDocuments) {
			return nil, errors.New(errors.ErrCodeFileNotFound,
				fmt.Sprintf("no Markdown documents in %s", cfg.SourceDir), err).
				WithSuggestion("Add .md files to the source directory, or set source.dir in .docdex.yaml")
		}
		return nil, err
	}
	result.DocumentsTotal = len(docs)
	result.Stages.Scan = time.Since(scanStart)

	// Route once for the whole run.
	route, err := r.router.Resolve(ctx, embed.OperationIndexing, embed.ResolveOptions{
		Interactive: cfg.Interactive,
		Confirm:     cfg.Confirm,
	})
	if err != nil {
		return nil, err
	}
	backend := route.Backend
	defer func() { _ = backend.Close() }()
	result.EmbeddingRoute = route.Metadata
	result.EmbeddingModel = backend.ModelName()

	dims, err := r.resolveDimensions(ctx, cfg, backend)
	if err != nil {
		return nil, err
	}
	result.EmbeddingDimensions = dims

	if err := r.validateDatabase(ctx, cfg, backend.ModelName(), dims); err != nil {
		return nil, err
	}

	st, err := r.openStore(ctx, store.Config{
		Path:                cfg.DatabasePath,
		EmbeddingModel:      backend.ModelName(),
		EmbeddingDimensions: dims,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	if err := r.pruneRemoved(ctx, st, docs, result); err != nil {
		return nil, err
	}

	// Chunk changed documents, skipping unchanged fingerprints.
	chunkStart := time.Now()
	work, err := r.chunkDocuments(ctx, st, docs, cfg.Force, result)
	if err != nil {
		return nil, err
	}
	result.Stages.Chunk = time.Since(chunkStart)

	totalChunks := 0
	for _, w := range work {
		totalChunks += len(w.chunks)
	}
	if totalChunks == 0 {
		if len(work) > 0 {
			r.warn(result, "", "changed documents produced no chunks")
		}
		result.Duration = time.Since(start)
		r.complete(result, route)
		return result, nil
	}

	// One combined embedding pass.
	embedStart := time.Now()
	embeddings, tokens, err := r.embedChunks(ctx, route, backend, work, totalChunks, result)
	if err != nil {
		return nil, err
	}
	result.TotalTokens = tokens
	result.Stages.Embed = time.Since(embedStart)

	// Per-document replace transactions.
	storeStart := time.Now()
	r.storeDocuments(ctx, st, work, embeddings, result)
	result.Stages.Store = time.Since(storeStart)

	result.Duration = time.Since(start)
	r.logger.Info("reindex_finished",
		slog.Int("documents", result.DocumentsProcessed),
		slog.Int("skipped", result.DocumentsSkipped),
		slog.Int("failed", result.DocumentsFailed),
		slog.Int("chunks", result.ChunksCreated),
		slog.Duration("duration", result.Duration),
	)
	r.complete(result, route)
	return result, nil
}

// resolveDimensions finds the vector width to build with: backend-reported,
// else the stored schema width when the stored model matches, else one probe
// embedding.
func (r *Runner) resolveDimensions(ctx context.Context, cfg RunnerConfig, backend embed.Backend) (int, error) {
	if dims := backend.Dimensions(); dims > 0 {
		return dims, nil
	}
	if meta, err := store.ReadMetadata(ctx, cfg.DatabasePath); err == nil &&
		meta.EmbeddingModel == backend.ModelName() {
		return meta.EmbeddingDimensions, nil
	}

	vec, err := backend.Embed(ctx, dimensionProbeText)
	if err != nil {
		return 0, errors.New(errors.ErrCodeEmbeddingFailed,
			"failed to determine embedding dimensions", err)
	}
	if len(vec) == 0 {
		return 0, errors.New(errors.ErrCodeMalformedResponse,
			"backend returned an empty probe embedding", nil)
	}
	return len(vec), nil
}

// validateDatabase checks a pre-existing database against the active
// embedding. With Force, an incompatible database is removed and rebuilt.
func (r *Runner) validateDatabase(ctx context.Context, cfg RunnerConfig, model string, dims int) error {
	err := store.ValidateDimensions(ctx, cfg.DatabasePath, model, dims)
	if err == nil {
		return nil
	}
	code := errors.GetCode(err)
	rebuildable := code == errors.ErrCodeDimensionMismatch || code == errors.ErrCodeCorruptIndex
	if !cfg.Force || !rebuildable {
		return err
	}

	r.logger.Warn("index_rebuild",
		slog.String("database", cfg.DatabasePath),
		slog.String("reason", code),
	)
	for _, p := range []string{cfg.DatabasePath, cfg.DatabasePath + "-wal", cfg.DatabasePath + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return errors.IOError(fmt.Sprintf("failed to remove %s for rebuild", p), rmErr)
		}
	}
	return nil
}

// pruneRemoved drops indexed documents whose source file no longer exists.
func (r *Runner) pruneRemoved(ctx context.Context, st *store.Store, docs []scanner.Document, result *RunnerResult) error {
	fps, err := st.ListFingerprints(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(docs))
	for _, doc := range docs {
		present[doc.DocID] = true
	}
	for _, fp := range fps {
		if present[fp.DocID] {
			continue
		}
		n, err := st.RemoveDocument(ctx, fp.DocID)
		if err != nil {
			return err
		}
		result.DocumentsRemoved++
		r.logger.Info("document_pruned",
			slog.String("doc_id", fp.DocID),
			slog.Int("chunks", n),
		)
	}
	return nil
}

func (r *Runner) chunkDocuments(ctx context.Context, st *store.Store, docs []scanner.Document, force bool, result *RunnerResult) ([]*docWork, error) {
	var work []*docWork
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:         ui.StageChunking,
			DocsTotal:     result.DocumentsTotal,
			DocsProcessed: i,
			DocsSkipped:   result.DocumentsSkipped,
			DocsFailed:    result.DocumentsFailed,
			CurrentDoc:    doc.SourceFile,
		})

		fp := Fingerprint(doc.SourceFile, doc.Content)
		if !force {
			existing, err := st.GetFingerprint(ctx, doc.DocID)
			if err == nil && existing.Fingerprint == fp {
				result.DocumentsSkipped++
				continue
			}
			if err != nil && !stderrors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}

		chunks := chunk.ChunkDocument(doc.Content, chunk.DocumentInfo{
			SourceFile: doc.SourceFile,
			DocID:      doc.DocID,
			DocType:    doc.DocType,
		}, chunk.DefaultOptions())
		if len(chunks) == 0 {
			r.warn(result, doc.SourceFile, "document produced no chunks")
			result.DocumentsFailed++
			continue
		}

		work = append(work, &docWork{doc: doc, fingerprint: fp, chunks: chunks})
	}
	return work, nil
}

func (r *Runner) embedChunks(ctx context.Context, route *embed.Route, backend embed.Backend, work []*docWork, totalChunks int, result *RunnerResult) ([][]float32, int, error) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageEmbedding,
		DocsTotal:   result.DocumentsTotal,
		DocsSkipped: result.DocumentsSkipped,
		DocsFailed:  result.DocumentsFailed,
		ChunksTotal: totalChunks,
	})

	// A local server can die between routing and this point. Re-assert
	// health so the failure mode is a clear diagnostic, not a timeout.
	if route.Metadata.Provider == string(embed.ProviderLocal) {
		if report := r.router.CheckLocal(ctx); !report.OK {
			return nil, 0, errors.New(errors.ErrCodeBackendUnavailable,
				fmt.Sprintf("local embedding backend became unavailable: %s", report.FailureDetail()), nil).
				WithSuggestion(report.Fix)
		}
	}

	texts := make([]string, 0, totalChunks)
	for _, w := range work {
		for _, c := range w.chunks {
			texts = append(texts, c.Content)
		}
	}

	batch, err := backend.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if len(batch.Embeddings) != len(texts) {
		return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
			fmt.Sprintf("backend returned %d embeddings for %d chunks", len(batch.Embeddings), len(texts)), nil)
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:           ui.StageEmbedding,
		DocsTotal:       result.DocumentsTotal,
		DocsSkipped:     result.DocumentsSkipped,
		DocsFailed:      result.DocumentsFailed,
		ChunksTotal:     totalChunks,
		ChunksProcessed: totalChunks,
	})
	return batch.Embeddings, batch.TotalTokens, nil
}

func (r *Runner) storeDocuments(ctx context.Context, st *store.Store, work []*docWork, embeddings [][]float32, result *RunnerResult) {
	offset := 0
	for i, w := range work {
		docEmbeddings := embeddings[offset : offset+len(w.chunks)]
		offset += len(w.chunks)

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:         ui.StageStoring,
			DocsTotal:     result.DocumentsTotal,
			DocsProcessed: i,
			DocsSkipped:   result.DocumentsSkipped,
			DocsFailed:    result.DocumentsFailed,
			ChunksTotal:   len(embeddings),
			CurrentDoc:    w.doc.SourceFile,
		})

		err := st.ReplaceDocument(ctx, w.doc.DocID, w.chunks, docEmbeddings, store.DocumentFingerprint{
			DocID:       w.doc.DocID,
			Fingerprint: w.fingerprint,
			IndexedAt:   time.Now().UTC(),
			ChunkCount:  len(w.chunks),
		})
		if err != nil {
			r.warn(result, w.doc.SourceFile, fmt.Sprintf("failed to store document: %v", err))
			result.DocumentsFailed++
			continue
		}
		result.DocumentsProcessed++
		result.ChunksCreated += len(w.chunks)
	}
}

func (r *Runner) warn(result *RunnerResult, doc, msg string) {
	full := msg
	if doc != "" {
		full = doc + ": " + msg
	}
	result.Warnings = append(result.Warnings, full)
	r.renderer.AddError(ui.ErrorEvent{Doc: doc, Err: stderrors.New(msg), IsWarn: true})
	r.logger.Warn("reindex_warning", slog.String("doc", doc), slog.String("message", msg))
}

func (r *Runner) complete(result *RunnerResult, route *embed.Route) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:           ui.StageComplete,
		DocsTotal:       result.DocumentsTotal,
		DocsProcessed:   result.DocumentsProcessed,
		DocsSkipped:     result.DocumentsSkipped,
		DocsFailed:      result.DocumentsFailed,
		ChunksTotal:     result.ChunksCreated,
		ChunksProcessed: result.ChunksCreated,
	})
	r.renderer.Complete(ui.CompletionStats{
		Documents: result.DocumentsProcessed,
		Skipped:   result.DocumentsSkipped,
		Failed:    result.DocumentsFailed,
		Chunks:    result.ChunksCreated,
		Tokens:    result.TotalTokens,
		Warnings:  len(result.Warnings),
		Duration:  result.Duration,
		Stages:    result.Stages,
		Backend: ui.BackendInfo{
			Provider:   route.Metadata.Provider,
			Model:      result.EmbeddingModel,
			Dimensions: result.EmbeddingDimensions,
		},
	})
}
