package ollama

import (
	"fmt"
	"strings"

	"github.com/bchauvel/lexia/internal/core/domain"
)

func buildSectionsPrompt(question string, hits []domain.SearchHit) string {
	var contextBuilder strings.Builder
	for idx, hit := range hits {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] titre=%s type=%s domaine=%s score=%.3f\n%s\n\n",
			idx+1,
			hit.Title,
			hit.DocumentType,
			hit.LegalDomain,
			hit.CombinedScore,
			hit.Text,
		))
	}

	return fmt.Sprintf(`Tu es un assistant juridique français. Réponds uniquement à partir des extraits fournis.
Retourne un objet JSON strict avec les clés:
introduction (string), legal_framework (string), application (string), exceptions (string), recommendations (array of strings).
Cite les articles et décisions présents dans les extraits. N'invente aucune référence.
Si les extraits ne suffisent pas pour une clé, mets une chaîne vide.
Pas de markdown, pas de clés supplémentaires.

Question:
%s

Extraits:
%s
`, question, contextBuilder.String())
}
