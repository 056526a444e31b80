package dualstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

// Relational is the postgres side of the store. SaveDocument returns the
// chunk ids of superseded versions it deleted.
type Relational interface {
	SaveDocument(ctx context.Context, doc domain.EnrichedDocument, chunks []domain.Chunk) ([]string, error)
	DeleteDocument(ctx context.Context, id string) ([]string, error)
}

// KeywordIndex answers keyword searches from the relational side.
type KeywordIndex interface {
	SearchByKeywords(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.SearchHit, error)
	Inventory(ctx context.Context) (map[string]bool, error)
	MarkEmbeddingFailed(ctx context.Context, chunkIDs []string) error
}

// VectorIndex is the qdrant side of the store.
type VectorIndex interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	DeletePoints(ctx context.Context, ids []string) error
	ScrollIDs(ctx context.Context, batchSize int) ([]string, error)
}

// Store keeps the relational store and the vector index in step. Writes
// for the same document are serialized by a keyed mutex; different
// documents proceed concurrently. Relational rows commit first, so a
// vector entry never exists without its relational counterpart.
type Store struct {
	relational Relational
	keywords   KeywordIndex
	vectors    VectorIndex
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func New(relational Relational, keywords KeywordIndex, vectors VectorIndex, logger *slog.Logger) *Store {
	return &Store{
		relational: relational,
		keywords:   keywords,
		vectors:    vectors,
		logger:     logger,
		locks:      make(map[string]*docLock),
	}
}

func (s *Store) lockDocument(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &docLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Store) Upsert(ctx context.Context, doc domain.EnrichedDocument, chunks []domain.Chunk) error {
	unlock := s.lockDocument(doc.Raw.SourceID)
	defer unlock()

	superseded, err := s.relational.SaveDocument(ctx, doc, chunks)
	if err != nil {
		return fmt.Errorf("relational save: %w", err)
	}
	if len(superseded) > 0 {
		// The relational rows are already gone, so the stale points would
		// keep serving the old version as current. A failed delete leaves
		// them orphaned, which reconciliation repairs.
		if err := s.vectors.DeletePoints(ctx, superseded); err != nil {
			return domain.WrapError(domain.ErrStoreInconsistent, "delete superseded vectors", err)
		}
	}
	if err := s.vectors.UpsertChunks(ctx, chunks); err != nil {
		// The relational rows stay; reconciliation reports the gap and the
		// next upsert of the document repairs it.
		return domain.WrapError(domain.ErrStoreInconsistent, "vector upsert", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	unlock := s.lockDocument(documentID)
	defer unlock()

	chunkIDs, err := s.relational.DeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.vectors.DeletePoints(ctx, chunkIDs); err != nil {
		return domain.WrapError(domain.ErrStoreInconsistent, "vector delete", err)
	}
	return nil
}

func (s *Store) SearchByVector(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	return s.vectors.Search(ctx, queryVector, limit, filter)
}

func (s *Store) SearchByFilter(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.SearchHit, error) {
	return s.keywords.SearchByKeywords(ctx, filter, limit)
}

// Reconcile deletes vector points without a relational row and counts
// relational chunks that should have a vector but do not. It repairs
// drift instead of failing reads.
func (s *Store) Reconcile(ctx context.Context) (ports.ReconcileReport, error) {
	var report ports.ReconcileReport

	inventory, err := s.keywords.Inventory(ctx)
	if err != nil {
		return report, fmt.Errorf("chunk inventory: %w", err)
	}
	vectorIDs, err := s.vectors.ScrollIDs(ctx, 256)
	if err != nil {
		return report, fmt.Errorf("scroll vector ids: %w", err)
	}

	indexed := make(map[string]struct{}, len(vectorIDs))
	var orphans []string
	for _, id := range vectorIDs {
		indexed[id] = struct{}{}
		if _, ok := inventory[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := s.vectors.DeletePoints(ctx, orphans); err != nil {
			return report, fmt.Errorf("delete orphan vectors: %w", err)
		}
		report.OrphanVectorsDeleted = len(orphans)
	}

	var missing []string
	for id, embeddingFailed := range inventory {
		if embeddingFailed {
			continue
		}
		if _, ok := indexed[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		// Flag them so keyword search keeps serving the chunks and the
		// next pass does not report the same drift again.
		if err := s.keywords.MarkEmbeddingFailed(ctx, missing); err != nil {
			return report, fmt.Errorf("mark missing vectors: %w", err)
		}
		report.ChunksMissingVectors = len(missing)
	}

	if s.logger != nil && (report.OrphanVectorsDeleted > 0 || report.ChunksMissingVectors > 0) {
		s.logger.Warn("store reconciliation repaired drift",
			slog.Int("orphan_vectors_deleted", report.OrphanVectorsDeleted),
			slog.Int("chunks_missing_vectors", report.ChunksMissingVectors))
	}
	return report, nil
}
