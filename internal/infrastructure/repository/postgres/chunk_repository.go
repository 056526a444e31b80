package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bchauvel/lexia/internal/core/domain"
)

type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// SearchByKeywords finds chunks whose keyword set intersects the query
// keywords under the filter predicates. Rows come back best match first,
// then newest effective date, so the limit keeps the strongest candidates.
// The keyword score is the matched share of the query keywords, in [0,1].
func (r *ChunkRepository) SearchByKeywords(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.SearchHit, error) {
	if len(filter.Keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	keywordsJSON, err := json.Marshal(filter.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal query keywords: %w", err)
	}

	var conds []string
	args := []any{keywordsJSON}
	conds = append(conds, `c.keywords ?| ARRAY(SELECT jsonb_array_elements_text($1::jsonb))`)
	if filter.LegalDomain != "" {
		args = append(args, string(filter.LegalDomain))
		conds = append(conds, fmt.Sprintf("d.legal_domain = $%d", len(args)))
	}
	if filter.DocumentType != "" {
		args = append(args, string(filter.DocumentType))
		conds = append(conds, fmt.Sprintf("d.document_type = $%d", len(args)))
	}
	if !filter.EffectiveFrom.IsZero() {
		args = append(args, filter.EffectiveFrom)
		conds = append(conds, fmt.Sprintf("d.effective_date >= $%d", len(args)))
	}
	if !filter.EffectiveTo.IsZero() {
		args = append(args, filter.EffectiveTo)
		conds = append(conds, fmt.Sprintf("d.effective_date <= $%d", len(args)))
	}
	if filter.OnlyCurrent {
		conds = append(conds, "d.is_current")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT c.id, c.document_id, c.chunk_text, c.keywords, d.title, d.source_url,
	d.document_type, d.legal_domain, d.effective_date, d.is_current
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE %s
ORDER BY (SELECT count(*) FROM jsonb_array_elements_text($1::jsonb) q(kw) WHERE c.keywords ? q.kw) DESC,
	d.effective_date DESC NULLS LAST
LIMIT $%d
`, strings.Join(conds, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var hit domain.SearchHit
		var chunkKeywordsRaw []byte
		var docType, legalDomain string
		var sourceURL sql.NullString
		var effective sql.NullTime
		if err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.Text, &chunkKeywordsRaw, &hit.Title,
			&sourceURL, &docType, &legalDomain, &effective, &hit.IsCurrent,
		); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}

		var chunkKeywords []string
		if err := json.Unmarshal(chunkKeywordsRaw, &chunkKeywords); err != nil {
			return nil, fmt.Errorf("unmarshal chunk keywords: %w", err)
		}

		hit.SourceURL = sourceURL.String
		hit.DocumentType = domain.DocumentType(docType)
		hit.LegalDomain = domain.LegalDomain(legalDomain)
		hit.EffectiveDate = effective.Time
		hit.KeywordScore = keywordOverlap(filter.Keywords, chunkKeywords)
		hit.HasKeyword = true
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword hits: %w", err)
	}
	return hits, nil
}

func keywordOverlap(query, chunk []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(chunk))
	for _, k := range chunk {
		set[strings.ToLower(k)] = struct{}{}
	}
	matched := 0
	for _, k := range query {
		if _, ok := set[strings.ToLower(k)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// Inventory maps every stored chunk id to its embedding_failed flag, for
// reconciliation against the vector index.
func (r *ChunkRepository) Inventory(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, embedding_failed FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("query chunk inventory: %w", err)
	}
	defer rows.Close()

	inventory := make(map[string]bool)
	for rows.Next() {
		var id string
		var failed bool
		if err := rows.Scan(&id, &failed); err != nil {
			return nil, fmt.Errorf("scan chunk inventory: %w", err)
		}
		inventory[id] = failed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk inventory: %w", err)
	}
	return inventory, nil
}

// MarkEmbeddingFailed flags chunks whose vectors could not be produced so
// reconciliation does not keep reporting them.
func (r *ChunkRepository) MarkEmbeddingFailed(ctx context.Context, chunkIDs []string) error {
	idsJSON, err := json.Marshal(chunkIDs)
	if err != nil {
		return fmt.Errorf("marshal chunk ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE chunks SET embedding_failed = TRUE
WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
`, idsJSON)
	if err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}
	return nil
}
