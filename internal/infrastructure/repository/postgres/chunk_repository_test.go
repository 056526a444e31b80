package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bchauvel/lexia/internal/core/domain"
)

func newChunkRepoWithMock(t *testing.T) (*ChunkRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &ChunkRepository{db: db}, mock, func() { _ = db.Close() }
}

func keywordHitRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "document_id", "chunk_text", "keywords", "title", "source_url",
		"document_type", "legal_domain", "effective_date", "is_current",
	})
}

func TestSearchByKeywordsScoresMatchedShare(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT c.id, c.document_id").
		WillReturnRows(keywordHitRows().
			AddRow("chunk-1", "doc-1", "texte", []byte(`["rupture","conventionnelle","indemnité"]`),
				"Article", "https://x", "statute", "travail",
				time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true).
			AddRow("chunk-2", "doc-2", "texte", []byte(`["rupture"]`),
				"Arrêt", "", "case_law", "travail",
				time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true))

	hits, err := repo.SearchByKeywords(context.Background(), domain.SearchFilter{
		Keywords: []string{"rupture", "conventionnelle"},
	}, 20)
	if err != nil {
		t.Fatalf("SearchByKeywords() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].KeywordScore != 1.0 {
		t.Fatalf("full match should score 1.0, got %f", hits[0].KeywordScore)
	}
	if hits[1].KeywordScore != 0.5 {
		t.Fatalf("half match should score 0.5, got %f", hits[1].KeywordScore)
	}
	if !hits[0].HasKeyword || hits[0].HasVector {
		t.Fatalf("keyword hit flags wrong: %+v", hits[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchByKeywordsAppliesFilterPredicates(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`d\.legal_domain = \$2 AND d\.document_type = \$3 AND d\.is_current`).
		WillReturnRows(keywordHitRows())

	_, err := repo.SearchByKeywords(context.Background(), domain.SearchFilter{
		Keywords:     []string{"bail"},
		LegalDomain:  domain.DomainImmobilier,
		DocumentType: domain.TypeStatute,
		OnlyCurrent:  true,
	}, 10)
	if err != nil {
		t.Fatalf("SearchByKeywords() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchByKeywordsOrdersByMatchCountThenRecency(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`ORDER BY \(SELECT count\(\*\) FROM jsonb_array_elements_text\(\$1::jsonb\) q\(kw\) WHERE c\.keywords \? q\.kw\) DESC,\s+d\.effective_date DESC NULLS LAST\s+LIMIT \$2`).
		WillReturnRows(keywordHitRows())

	_, err := repo.SearchByKeywords(context.Background(), domain.SearchFilter{
		Keywords: []string{"licenciement"},
	}, 5)
	if err != nil {
		t.Fatalf("SearchByKeywords() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchByKeywordsEmptyQuery(t *testing.T) {
	repo, _, done := newChunkRepoWithMock(t)
	defer done()

	hits, err := repo.SearchByKeywords(context.Background(), domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("SearchByKeywords() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("expected no query for empty keywords, got %v", hits)
	}
}

func TestInventoryMapsEmbeddingFailed(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, embedding_failed FROM chunks").
		WillReturnRows(sqlmock.NewRows([]string{"id", "embedding_failed"}).
			AddRow("chunk-1", false).
			AddRow("chunk-2", true))

	inventory, err := repo.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	if len(inventory) != 2 || inventory["chunk-1"] || !inventory["chunk-2"] {
		t.Fatalf("unexpected inventory: %v", inventory)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkEmbeddingFailed(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE chunks SET embedding_failed = TRUE").
		WithArgs([]byte(`["chunk-1","chunk-2"]`)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.MarkEmbeddingFailed(context.Background(), []string{"chunk-1", "chunk-2"}); err != nil {
		t.Fatalf("MarkEmbeddingFailed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
