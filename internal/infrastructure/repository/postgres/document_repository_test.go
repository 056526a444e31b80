package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bchauvel/lexia/internal/core/domain"
)

func newDocRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func sampleEnriched() (domain.EnrichedDocument, []domain.Chunk) {
	doc := domain.EnrichedDocument{
		ID: "doc-1",
		Raw: domain.RawDocument{
			Source:        "legifrance",
			SourceID:      "LEGIARTI000",
			Version:       2,
			Title:         "Article L1237-11",
			RawText:       "La rupture conventionnelle est possible.",
			DocumentType:  domain.TypeStatute,
			PublishedDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			IngestedAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		LegalDomain:      domain.DomainTravail,
		DomainConfidence: 0.8,
		Keywords:         []string{"rupture", "conventionnelle"},
		EnrichedAt:       time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC),
	}
	chunks := []domain.Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", Position: 0, Text: doc.Raw.RawText,
			Payload: domain.ChunkPayload{Keywords: doc.Keywords}},
	}
	return doc, chunks
}

func TestSaveDocumentRetiresPreviousVersions(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	doc, chunks := sampleEnriched()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET is_current = FALSE").
		WithArgs("LEGIARTI000").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("DELETE FROM chunks c USING documents d").
		WithArgs("LEGIARTI000").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("chunk-old-1").AddRow("chunk-old-2"))
	mock.ExpectExec("INSERT INTO documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	superseded, err := repo.SaveDocument(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if len(superseded) != 2 || superseded[0] != "chunk-old-1" || superseded[1] != "chunk-old-2" {
		t.Fatalf("expected superseded chunk ids returned, got %v", superseded)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveDocumentRollsBackOnChunkFailure(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	doc, chunks := sampleEnriched()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET is_current = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DELETE FROM chunks c USING documents d").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	if _, err := repo.SaveDocument(context.Background(), doc, chunks); err == nil {
		t.Fatal("expected error from chunk insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, source_id, version").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestVersionZeroForUnknownSource(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("LEGIARTI999").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

	version, err := repo.LatestVersion(context.Background(), "LEGIARTI999")
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0, got %d", version)
	}
}

func TestDeleteDocumentReturnsChunkIDs(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM chunks").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("chunk-1").AddRow("chunk-2"))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chunkIDs, err := repo.DeleteDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if len(chunkIDs) != 2 || chunkIDs[0] != "chunk-1" {
		t.Fatalf("unexpected chunk ids: %v", chunkIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM chunks").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.DeleteDocument(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
