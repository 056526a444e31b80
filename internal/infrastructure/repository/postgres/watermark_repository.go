package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
)

type WatermarkRepository struct {
	db *sql.DB
}

func NewWatermarkRepository(db *sql.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns a zero watermark for a source that was never imported.
func (r *WatermarkRepository) Get(ctx context.Context, source string) (domain.Watermark, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT source, last_id, last_date, last_page, updated_at
FROM watermarks
WHERE source = $1
`, source)

	var wm domain.Watermark
	var lastDate sql.NullTime
	err := row.Scan(&wm.Source, &wm.LastID, &lastDate, &wm.LastPage, &wm.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Watermark{Source: source}, nil
		}
		return domain.Watermark{}, fmt.Errorf("scan watermark: %w", err)
	}
	wm.LastDate = lastDate.Time
	return wm, nil
}

func (r *WatermarkRepository) Save(ctx context.Context, wm domain.Watermark) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO watermarks (source, last_id, last_date, last_page, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (source) DO UPDATE SET
	last_id = EXCLUDED.last_id,
	last_date = EXCLUDED.last_date,
	last_page = EXCLUDED.last_page,
	updated_at = EXCLUDED.updated_at
`, wm.Source, wm.LastID, nullTime(wm.LastDate), wm.LastPage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
