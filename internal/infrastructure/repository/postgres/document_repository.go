package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bchauvel/lexia/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// SaveDocument stores an enriched document and its chunks in one
// transaction. Prior versions of the same source_id lose is_current and
// their chunk rows; the returned ids let the caller drop the matching
// vector points. Nothing here touches the vector index.
func (r *DocumentRepository) SaveDocument(ctx context.Context, doc domain.EnrichedDocument, chunks []domain.Chunk) ([]string, error) {
	entitiesJSON, err := json.Marshal(doc.NamedEntities)
	if err != nil {
		return nil, fmt.Errorf("marshal entities: %w", err)
	}
	keywordsJSON, err := json.Marshal(doc.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}
	warningsJSON, err := json.Marshal(doc.Warnings)
	if err != nil {
		return nil, fmt.Errorf("marshal warnings: %w", err)
	}
	metadataJSON, err := json.Marshal(doc.Raw.SourceMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal source metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET is_current = FALSE WHERE source_id = $1 AND is_current
`, doc.Raw.SourceID); err != nil {
		return nil, fmt.Errorf("retire previous versions: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
DELETE FROM chunks c USING documents d
WHERE c.document_id = d.id AND d.source_id = $1
RETURNING c.id
`, doc.Raw.SourceID)
	if err != nil {
		return nil, fmt.Errorf("delete superseded chunks: %w", err)
	}
	var superseded []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan superseded chunk id: %w", err)
		}
		superseded = append(superseded, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read superseded chunk ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (
	id, source, source_id, version, title, raw_text, document_type, legal_domain,
	domain_confidence, named_entities, summary, keywords, readability, warnings,
	published_date, effective_date, is_current, source_url, source_metadata,
	ingested_at, enriched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,TRUE,$17,$18,$19,$20)
`,
		doc.ID, doc.Raw.Source, doc.Raw.SourceID, doc.Raw.Version, doc.Raw.Title, doc.Raw.RawText,
		string(doc.Raw.DocumentType), string(doc.LegalDomain), doc.DomainConfidence,
		entitiesJSON, doc.Summary, keywordsJSON, doc.ReadabilityScore, warningsJSON,
		doc.Raw.PublishedDate, doc.Raw.EffectiveDate, doc.Raw.SourceURL, metadataJSON,
		doc.Raw.IngestedAt, doc.EnrichedAt,
	); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	for _, chunk := range chunks {
		chunkKeywordsJSON, err := json.Marshal(chunk.Payload.Keywords)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk keywords: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks (id, document_id, position, chunk_text, embedding_failed, hierarchy, keywords)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
			chunk.ID, chunk.DocumentID, chunk.Position, chunk.Text, chunk.EmbeddingFailed,
			chunk.Payload.Hierarchy, chunkKeywordsJSON,
		); err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", chunk.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save tx: %w", err)
	}
	return superseded, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (domain.EnrichedDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, source_id, version, title, raw_text, document_type, legal_domain,
	domain_confidence, named_entities, summary, keywords, readability, warnings,
	published_date, effective_date, source_url, source_metadata, ingested_at, enriched_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.EnrichedDocument
	var docType, legalDomain string
	var summary, sourceURL sql.NullString
	var published, effective sql.NullTime
	var entitiesRaw, keywordsRaw, warningsRaw, metadataRaw []byte

	err := row.Scan(
		&doc.ID, &doc.Raw.SourceID, &doc.Raw.Version, &doc.Raw.Title, &doc.Raw.RawText,
		&docType, &legalDomain, &doc.DomainConfidence, &entitiesRaw, &summary,
		&keywordsRaw, &doc.ReadabilityScore, &warningsRaw, &published, &effective,
		&sourceURL, &metadataRaw, &doc.Raw.IngestedAt, &doc.EnrichedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EnrichedDocument{}, domain.WrapError(domain.ErrDocumentNotFound, "get document", err)
		}
		return domain.EnrichedDocument{}, fmt.Errorf("scan document: %w", err)
	}

	doc.Raw.DocumentType = domain.DocumentType(docType)
	doc.LegalDomain = domain.LegalDomain(legalDomain)
	doc.Summary = summary.String
	doc.Raw.SourceURL = sourceURL.String
	doc.Raw.PublishedDate = published.Time
	doc.Raw.EffectiveDate = effective.Time
	if err := json.Unmarshal(entitiesRaw, &doc.NamedEntities); err != nil {
		return domain.EnrichedDocument{}, fmt.Errorf("unmarshal entities: %w", err)
	}
	if err := json.Unmarshal(keywordsRaw, &doc.Keywords); err != nil {
		return domain.EnrichedDocument{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(warningsRaw, &doc.Warnings); err != nil {
		return domain.EnrichedDocument{}, fmt.Errorf("unmarshal warnings: %w", err)
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &doc.Raw.SourceMetadata); err != nil {
			return domain.EnrichedDocument{}, fmt.Errorf("unmarshal source metadata: %w", err)
		}
	}
	return doc, nil
}

// LatestVersion returns the highest stored version for a source_id, zero
// when the document was never ingested.
func (r *DocumentRepository) LatestVersion(ctx context.Context, sourceID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version), 0) FROM documents WHERE source_id = $1
`, sourceID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query latest version: %w", err)
	}
	return version, nil
}

// DeleteDocument removes a document and returns the ids of its chunks so
// the caller can drop the matching vector entries.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var chunkID string
		if err := rows.Scan(&chunkID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk ids: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("delete document rows affected: %w", err)
	}
	if affected == 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New(id))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete tx: %w", err)
	}
	return chunkIDs, nil
}
