package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

const maxRecordedItemErrors = 20

// ImportUseCase drives one source through fetch, enrich, chunk, embed and
// store. Per-item failure is captured in the stats, never raised as a
// batch-wide error; the watermark advances only past fully processed pages.
type ImportUseCase struct {
	connectors map[string]ports.SourceConnector
	order      []string
	enricher   ports.Enricher
	chunker    ports.Chunker
	embedder   ports.Embedder
	store      ports.ChunkStore
	watermarks ports.WatermarkStore
	documents  ports.DocumentReader
	logger     *slog.Logger

	workers            int
	pageSize           int
	embedBatchSize     int
	embedRetryPerChunk int
}

type ImportOptions struct {
	Workers            int
	PageSize           int
	EmbedBatchSize     int
	EmbedRetryPerChunk int
}

func NewImportUseCase(
	connectors []ports.SourceConnector,
	enricher ports.Enricher,
	chunker ports.Chunker,
	embedder ports.Embedder,
	store ports.ChunkStore,
	watermarks ports.WatermarkStore,
	documents ports.DocumentReader,
	logger *slog.Logger,
	options ImportOptions,
) *ImportUseCase {
	if options.Workers <= 0 {
		options.Workers = 4
	}
	if options.PageSize <= 0 {
		options.PageSize = 20
	}
	if options.EmbedBatchSize <= 0 {
		options.EmbedBatchSize = 16
	}
	if options.EmbedRetryPerChunk <= 0 {
		options.EmbedRetryPerChunk = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]ports.SourceConnector, len(connectors))
	order := make([]string, 0, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
		order = append(order, c.Name())
	}
	return &ImportUseCase{
		connectors:         byName,
		order:              order,
		enricher:           enricher,
		chunker:            chunker,
		embedder:           embedder,
		store:              store,
		watermarks:         watermarks,
		documents:          documents,
		logger:             logger,
		workers:            options.Workers,
		pageSize:           options.PageSize,
		embedBatchSize:     options.EmbedBatchSize,
		embedRetryPerChunk: options.EmbedRetryPerChunk,
	}
}

// Sources lists connector names in registration order.
func (uc *ImportUseCase) Sources() []string {
	out := make([]string, len(uc.order))
	copy(out, uc.order)
	return out
}

func (uc *ImportUseCase) RunImport(ctx context.Context, source string) (ports.ImportStats, error) {
	connector, ok := uc.connectors[source]
	if !ok {
		return ports.ImportStats{Source: source}, domain.WrapError(
			domain.ErrInvalidInput, "run import", fmt.Errorf("unknown source %q", source))
	}

	stats := ports.ImportStats{Source: source}

	watermark, err := uc.watermarks.Get(ctx, source)
	if err != nil {
		return stats, fmt.Errorf("load watermark: %w", err)
	}

	cursor, err := connector.Fetch(ctx, ports.FetchParams{
		Since:    watermark.LastDate,
		AfterID:  watermark.LastID,
		Page:     watermark.LastPage,
		PageSize: uc.pageSize,
	})
	if err != nil {
		return stats, fmt.Errorf("open %s cursor: %w", source, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, done, err := cursor.Next(ctx)
		if err != nil {
			// Committed pages stay committed; the saved watermark lets
			// the next run resume where this one stopped.
			return stats, fmt.Errorf("fetch %s page: %w", source, err)
		}

		uc.processBatch(ctx, connector, batch, &stats)

		position := cursor.Position()
		if err := uc.watermarks.Save(ctx, position); err != nil {
			return stats, fmt.Errorf("save watermark: %w", err)
		}

		if done {
			break
		}
	}

	uc.logger.Info("import run finished",
		slog.String("source", source),
		slog.Int("fetched", stats.Fetched),
		slog.Int("ingested", stats.Ingested),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// processBatch fans the page out over a bounded worker pool. Enrichment
// and chunking are CPU-bound and share no state; the dual store serializes
// per document on its own.
func (uc *ImportUseCase) processBatch(
	ctx context.Context,
	connector ports.SourceConnector,
	batch []domain.RawDocument,
	stats *ports.ImportStats,
) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, uc.workers)
	)

	for _, raw := range batch {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(raw domain.RawDocument) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, embedFailed, err := uc.ingestOne(ctx, connector, raw)

			mu.Lock()
			defer mu.Unlock()
			stats.Fetched++
			stats.EmbeddingFailures += embedFailed
			switch {
			case err != nil:
				stats.Failed++
				if len(stats.ItemError) < maxRecordedItemErrors {
					stats.ItemError = append(stats.ItemError, fmt.Sprintf("%s: %v", raw.SourceID, err))
				}
				uc.logger.Error("document ingestion failed",
					slog.String("source", raw.Source),
					slog.String("source_id", raw.SourceID),
					slog.String("error", err.Error()))
			case outcome == outcomeSkipped:
				stats.Skipped++
			default:
				stats.Ingested++
			}
		}(raw)
	}
	wg.Wait()
}

type ingestOutcome int

const (
	outcomeIngested ingestOutcome = iota
	outcomeSkipped
)

func (uc *ImportUseCase) ingestOne(ctx context.Context, connector ports.SourceConnector, raw domain.RawDocument) (ingestOutcome, int, error) {
	if strings.TrimSpace(raw.RawText) == "" {
		uc.logger.Warn("skipping document without text",
			slog.String("source", raw.Source),
			slog.String("source_id", raw.SourceID))
		return outcomeSkipped, 0, nil
	}
	if raw.DocumentType == "" {
		raw.DocumentType = connector.DocumentType()
	}

	latest, err := uc.documents.LatestVersion(ctx, raw.SourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve version: %w", err)
	}
	raw.Version = latest + 1

	enriched, err := uc.enricher.Enrich(ctx, raw)
	if err != nil {
		return 0, 0, fmt.Errorf("enrich: %w", err)
	}

	chunks := uc.chunker.Split(enriched)
	if len(chunks) == 0 {
		return 0, 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	embedFailed := uc.embedChunks(ctx, enriched.ID, chunks)

	if err := uc.store.Upsert(ctx, enriched, chunks); err != nil {
		return 0, embedFailed, fmt.Errorf("store document: %w", err)
	}
	return outcomeIngested, embedFailed, nil
}

// embedChunks fills embeddings batch by batch and returns how many chunks
// ended up without a vector. A failed batch is retried chunk by chunk up
// to the configured attempts; a chunk that still fails is marked
// embedding_failed and kept relational-only rather than blocking the rest
// of the document.
func (uc *ImportUseCase) embedChunks(ctx context.Context, documentID string, chunks []domain.Chunk) int {
	failed := 0
	for start := 0; start < len(chunks); start += uc.embedBatchSize {
		end := min(start+uc.embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := uc.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) == len(batch) {
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			continue
		}

		uc.logger.Warn("embedding batch failed, retrying per chunk",
			slog.String("document_id", documentID),
			slog.Int("batch_size", len(batch)))
		for i := range batch {
			embedded := false
			for attempt := 0; attempt < uc.embedRetryPerChunk; attempt++ {
				single, retryErr := uc.embedder.Embed(ctx, []string{batch[i].Text})
				if retryErr == nil && len(single) == 1 {
					batch[i].Embedding = single[0]
					embedded = true
					break
				}
			}
			if !embedded {
				batch[i].EmbeddingFailed = true
				failed++
				uc.logger.Error("chunk embedding failed",
					slog.String("document_id", documentID),
					slog.String("chunk_id", batch[i].ID))
			}
		}
	}
	return failed
}
