package ports

import (
	"context"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// FetchParams seeds a connector cursor. Since/AfterID/Page come from the
// per-source watermark so a resumed import continues where it stopped.
type FetchParams struct {
	Query    string
	Since    time.Time
	AfterID  string
	Page     int
	PageSize int
}

// PageCursor is a lazy, restartable sequence of normalized documents.
// Position is safe to persist between Next calls: re-creating a cursor
// from it never re-fetches already consumed pages.
type PageCursor interface {
	Next(ctx context.Context) (batch []domain.RawDocument, done bool, err error)
	Position() domain.Watermark
}

// SourceConnector normalizes one external legal source into RawDocuments.
type SourceConnector interface {
	Name() string
	DocumentType() domain.DocumentType
	Fetch(ctx context.Context, params FetchParams) (PageCursor, error)
}

// TokenProvider manages the OAuth client-credentials lifecycle and rate
// quotas for one or more upstream APIs.
type TokenProvider interface {
	// Token returns a valid bearer token, authenticating if needed. At
	// most one auth request per upstream is in flight; concurrent callers
	// share its result.
	Token(ctx context.Context, upstream string) (string, error)
	// Invalidate drops the cached token after a dependent call saw a 401.
	Invalidate(upstream string)
	// Acquire blocks until the upstream's rate budget admits one call, or
	// ctx expires. Returns domain.ErrQuotaExceeded when the daily cap is gone.
	Acquire(ctx context.Context, upstream string) error
	// TryAcquire is the non-blocking variant.
	TryAcquire(upstream string) error
	// Delay suspends the upstream's budget until the given time, used when
	// a call saw 429 with a Retry-After hint.
	Delay(upstream string, until time.Time)
}

// Enricher derives an EnrichedDocument from a RawDocument. Deterministic
// for fixed lexicon versions; per-step failures surface as warnings on the
// result, not as errors.
type Enricher interface {
	Enrich(ctx context.Context, raw domain.RawDocument) (domain.EnrichedDocument, error)
}

// Chunker splits an enriched document into positioned chunks with their
// filterable payloads. Embeddings are filled in later.
type Chunker interface {
	Split(doc domain.EnrichedDocument) []domain.Chunk
}

// Embedder builds fixed-dimension vectors for chunk texts and queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ReconcileReport summarizes one reconciliation pass over the two stores.
type ReconcileReport struct {
	OrphanVectorsDeleted int
	ChunksMissingVectors int
}

// ChunkStore is the dual relational/vector store. Upsert is atomic from
// the caller's perspective: a reader never observes a vector entry without
// its relational counterpart.
type ChunkStore interface {
	Upsert(ctx context.Context, doc domain.EnrichedDocument, chunks []domain.Chunk) error
	Delete(ctx context.Context, documentID string) error
	SearchByVector(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error)
	SearchByFilter(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.SearchHit, error)
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

// WatermarkStore persists per-source ingestion positions.
type WatermarkStore interface {
	Get(ctx context.Context, source string) (domain.Watermark, error)
	Save(ctx context.Context, wm domain.Watermark) error
}

// AnswerSections is what the generator fills from retrieved context.
type AnswerSections struct {
	Introduction    string   `json:"introduction"`
	LegalFramework  string   `json:"legal_framework"`
	Application     string   `json:"application"`
	Exceptions      string   `json:"exceptions"`
	Recommendations []string `json:"recommendations"`
}

// AnswerGenerator produces the structured sections of an answer from the
// qualifying hits. It must only use the provided context.
type AnswerGenerator interface {
	GenerateSections(ctx context.Context, question string, hits []domain.SearchHit) (AnswerSections, error)
}

// MessageQueue carries import triggers from the API to the worker.
type MessageQueue interface {
	PublishImportRequested(ctx context.Context, source string) error
	SubscribeImportRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentReader is the read model for stored documents.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (domain.EnrichedDocument, error)
	LatestVersion(ctx context.Context, sourceID string) (int, error)
}
