package enrichment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// Enricher runs the per-document enrichment steps. Every step may fail on
// its own; a failed step leaves its field zero and appends a warning, the
// document itself always comes through.
type Enricher struct {
	classifier *classifier
	logger     *slog.Logger

	summarySentences int
	summaryMaxChars  int
	keywordLimit     int
	windowChars      int
}

type Option func(*Enricher)

func WithMinConfidence(min float64) Option {
	return func(e *Enricher) { e.classifier.minConfidence = min }
}

func WithSummaryBudget(sentences, maxChars int) Option {
	return func(e *Enricher) {
		e.summarySentences = sentences
		e.summaryMaxChars = maxChars
	}
}

// WithMaxInputLen sets the window size used for long inputs; non-positive
// values keep the default.
func WithMaxInputLen(chars int) Option {
	return func(e *Enricher) {
		if chars > 0 {
			e.windowChars = chars
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Enricher {
	e := &Enricher{
		classifier:       newClassifier(),
		logger:           logger,
		summarySentences: 3,
		summaryMaxChars:  500,
		keywordLimit:     20,
		windowChars:      20000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Enricher) Enrich(ctx context.Context, raw domain.RawDocument) (domain.EnrichedDocument, error) {
	if strings.TrimSpace(raw.RawText) == "" {
		return domain.EnrichedDocument{}, domain.WrapError(domain.ErrInvalidInput, "enrich", errors.New("document has no text"))
	}
	if err := ctx.Err(); err != nil {
		return domain.EnrichedDocument{}, err
	}

	doc := domain.EnrichedDocument{
		ID:         uuid.NewString(),
		Raw:        raw,
		EnrichedAt: time.Now().UTC(),
	}

	text := normalize(raw.RawText)
	if text == "" {
		text = raw.RawText
		doc.Warnings = append(doc.Warnings, "normalization produced empty text, kept raw")
	}
	doc.Raw.RawText = text

	doc.LegalDomain, doc.DomainConfidence = e.classifier.classify(raw.Title, text)

	for _, window := range windows(text, e.windowChars) {
		doc.NamedEntities = append(doc.NamedEntities, extractEntities(window.text, window.offset)...)
	}
	doc.NamedEntities = dedupeEntities(doc.NamedEntities)

	doc.Summary = leadingSummary(text, e.summarySentences, e.summaryMaxChars)
	if doc.Summary == "" {
		doc.Warnings = append(doc.Warnings, "summary extraction found no sentence boundary")
	}

	doc.Keywords = topKeywords(text, e.keywordLimit)
	if len(doc.Keywords) == 0 {
		doc.Warnings = append(doc.Warnings, "keyword extraction found only stopwords")
	}

	doc.ReadabilityScore = readability(text)

	if len(doc.Warnings) > 0 && e.logger != nil {
		e.logger.Warn("document enriched with warnings",
			slog.String("source_id", raw.SourceID),
			slog.Any("warnings", doc.Warnings))
	}
	return doc, nil
}

// EnrichBatch enriches documents independently; a failing item is logged
// and skipped, never failing its batch.
func (e *Enricher) EnrichBatch(ctx context.Context, raws []domain.RawDocument) ([]domain.EnrichedDocument, error) {
	out := make([]domain.EnrichedDocument, 0, len(raws))
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		doc, err := e.Enrich(ctx, raw)
		if err != nil {
			if e.logger != nil {
				e.logger.Error("skipping document in enrichment batch",
					slog.String("source_id", raw.SourceID),
					slog.String("error", err.Error()))
			}
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

type window struct {
	text   string
	offset int
}

// windows splits very long texts so regex passes stay bounded; the cut
// backs up to the nearest space to avoid splitting a citation.
func windows(text string, size int) []window {
	if size <= 0 || len(text) <= size {
		return []window{{text: text}}
	}
	var out []window
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			out = append(out, window{text: text[start:], offset: start})
			break
		}
		cut := strings.LastIndexByte(text[start:end], ' ')
		if cut <= 0 {
			cut = size
		}
		out = append(out, window{text: text[start : start+cut], offset: start})
		start += cut
	}
	return out
}

func dedupeEntities(entities []domain.NamedEntity) []domain.NamedEntity {
	seen := make(map[string]struct{}, len(entities))
	out := entities[:0]
	for _, ent := range entities {
		key := ent.Type + "\x00" + strings.ToLower(ent.Text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ent)
	}
	return out
}
