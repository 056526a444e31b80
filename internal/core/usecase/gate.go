package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

const (
	// Disclaimer is attached to every answer, referral or not.
	Disclaimer = "Ces informations sont fournies à titre indicatif et ne constituent pas un conseil juridique. Consultez un professionnel du droit pour votre situation."

	ReasonNoRelevantSource = "aucune source suffisamment pertinente n'a été trouvée"
	ReasonTimeout          = "impossible de répondre dans le délai imparti"
)

// historicalPhrases marks questions explicitly about superseded law. Only
// then are non-current hits admitted, flagged as historical in the sources.
var historicalPhrases = []string{
	"ancienne version",
	"ancien article",
	"ancienne rédaction",
	"version antérieure",
	"avant la réforme",
	"avant la loi",
	"droit antérieur",
	"abrogé",
	"en vigueur en",
	"à l'époque",
}

// AnswerGate turns retrieval hits into an AnswerCandidate or a referral.
// The decision itself is deterministic; only section generation does I/O.
type AnswerGate struct {
	generator ports.AnswerGenerator
	threshold float64
	topK      int
	now       func() time.Time
}

func NewAnswerGate(generator ports.AnswerGenerator, threshold float64, topK int) *AnswerGate {
	if threshold <= 0 {
		threshold = 0.75
	}
	if topK <= 0 {
		topK = 3
	}
	return &AnswerGate{
		generator: generator,
		threshold: threshold,
		topK:      topK,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (g *AnswerGate) Decide(ctx context.Context, question string, hits []domain.SearchHit) (domain.AnswerCandidate, error) {
	selected := g.selectContext(question, hits)
	if len(selected) == 0 {
		return g.Referral(ReasonNoRelevantSource), nil
	}

	sections, err := g.generator.GenerateSections(ctx, question, selected)
	if err != nil {
		return domain.AnswerCandidate{}, fmt.Errorf("generate answer sections: %w", err)
	}

	return domain.AnswerCandidate{
		Introduction:    sections.Introduction,
		LegalFramework:  sections.LegalFramework,
		Application:     sections.Application,
		Exceptions:      sections.Exceptions,
		Recommendations: sections.Recommendations,
		Sources:         citations(selected),
		Confidence:      selected[0].CombinedScore,
		Disclaimer:      Disclaimer,
		DateUpdated:     latestSourceDate(selected, g.now()),
	}, nil
}

// Referral builds the fallback candidate. Legal sections stay empty; the
// gate never fabricates content it has no source for.
func (g *AnswerGate) Referral(reason string) domain.AnswerCandidate {
	return domain.AnswerCandidate{
		Referral:       true,
		ReferralReason: reason,
		Recommendations: []string{
			"Consultez un avocat ou un notaire pour une analyse de votre situation.",
		},
		Sources:    []domain.SourceCitation{},
		Disclaimer: Disclaimer,
	}
}

// selectContext keeps the top-K hits whose score strictly exceeds the
// confidence threshold. Hits from superseded document versions are
// dropped unless the question asks about historical law.
func (g *AnswerGate) selectContext(question string, hits []domain.SearchHit) []domain.SearchHit {
	historical := asksHistorical(question)

	selected := make([]domain.SearchHit, 0, g.topK)
	for _, hit := range hits {
		if hit.CombinedScore <= g.threshold {
			continue
		}
		if !hit.IsCurrent && !historical {
			continue
		}
		selected = append(selected, hit)
		if len(selected) == g.topK {
			break
		}
	}
	return selected
}

func asksHistorical(question string) bool {
	q := strings.ToLower(question)
	for _, phrase := range historicalPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

// citations lists each contributing document once, in hit order.
func citations(hits []domain.SearchHit) []domain.SourceCitation {
	seen := make(map[string]bool, len(hits))
	out := make([]domain.SourceCitation, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.DocumentID] {
			continue
		}
		seen[hit.DocumentID] = true
		out = append(out, domain.SourceCitation{
			Title:        hit.Title,
			DocumentType: hit.DocumentType,
			Date:         hit.EffectiveDate,
			URL:          hit.SourceURL,
			Historical:   !hit.IsCurrent,
		})
	}
	return out
}

func latestSourceDate(hits []domain.SearchHit, fallback time.Time) time.Time {
	var latest time.Time
	for _, hit := range hits {
		if hit.EffectiveDate.After(latest) {
			latest = hit.EffectiveDate
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}
