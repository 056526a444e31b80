package ports

import (
	"context"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// ImportStats is the per-run outcome of an ingestion pass. Partial failure
// is recorded per item, never raised as a batch-wide error.
type ImportStats struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Ingested int    `json:"ingested"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	// EmbeddingFailures counts chunks stored without a vector.
	EmbeddingFailures int      `json:"embedding_failures,omitempty"`
	ItemError         []string `json:"item_errors,omitempty"`
}

// LegalImporter is the inbound contract for source ingestion runs.
type LegalImporter interface {
	RunImport(ctx context.Context, source string) (ImportStats, error)
	Sources() []string
}

// LegalQueryService answers French legal questions or refers to a
// professional; it never returns a raw retrieval error to the caller.
type LegalQueryService interface {
	Answer(ctx context.Context, question string, filter domain.SearchFilter, limit int) (domain.AnswerCandidate, error)
}
