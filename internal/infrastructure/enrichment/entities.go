package enrichment

import (
	"regexp"

	"github.com/bchauvel/lexia/internal/core/domain"
)

const (
	EntityStatuteRef   = "statute_ref"
	EntityCaseRef      = "case_ref"
	EntityJurisdiction = "jurisdiction"
	EntityDate         = "date"
)

var (
	// "article L. 1234-1 du code du travail", "articles R. 145-3 et suivants"
	statuteRef = regexp.MustCompile(`(?i)articles?\s+(?:[LRD]\.?\s*)?\d+(?:[-.]\d+)*(?:\s+(?:du|de la|de|des)\s+[cC]ode\s+[a-zéèêàâôùûç'’ ]+?)?(?:[,.;]|\s+et\s|$)`)

	// "arrêt n° 21-15.742", "décision du 12 mai 2023", "pourvoi n° 19-12.345"
	caseRef = regexp.MustCompile(`(?i)(?:arrêt|décision|pourvoi)(?:\s+(?:n°|no|numéro))?\s+\d+[-_.]\d+(?:[._]\d+)*`)

	jurisdictionRef = regexp.MustCompile(`(?i)cour de cassation|conseil d'[ée]tat|conseil constitutionnel|cour d'appel de [A-ZÉÈ][a-zéèêàâôùûç-]+|tribunal judiciaire de [A-ZÉÈ][a-zéèêàâôùûç-]+|chambre (?:sociale|civile|commerciale|criminelle|mixte)`)

	dateRef = regexp.MustCompile(`\b\d{1,2}(?:er)?\s+(?:janvier|février|mars|avril|mai|juin|juillet|août|septembre|octobre|novembre|décembre)\s+\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)
)

var entityPatterns = []struct {
	kind string
	re   *regexp.Regexp
	trim *regexp.Regexp
}{
	{EntityStatuteRef, statuteRef, regexp.MustCompile(`(?:[,.;]|\s+et\s*)$`)},
	{EntityCaseRef, caseRef, nil},
	{EntityJurisdiction, jurisdictionRef, nil},
	{EntityDate, dateRef, nil},
}

// extractEntities runs the citation patterns over one text window. The
// offset shifts spans back into whole-document coordinates.
func extractEntities(text string, offset int) []domain.NamedEntity {
	var out []domain.NamedEntity
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if p.trim != nil {
				match = p.trim.ReplaceAllString(match, "")
			}
			out = append(out, domain.NamedEntity{
				Text: match,
				Type: p.kind,
				Span: [2]int{offset + loc[0], offset + loc[0] + len(match)},
			})
		}
	}
	return out
}
