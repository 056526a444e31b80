package enrichment

import (
	"strings"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// lexicon maps each taxonomy label to the terms that vote for it. Terms
// are matched case-insensitively as substrings, so "imposition" also
// catches "impositions".
var lexicon = map[domain.LegalDomain][]string{
	domain.DomainFiscal: {
		"impôt", "fiscal", "taxe", "tva", "bénéfice imposable", "revenu",
		"imposition", "contribuable", "redevance",
	},
	domain.DomainTravail: {
		"travail", "salarié", "employeur", "contrat de travail", "licenciement",
		"embauche", "rupture conventionnelle", "préavis", "convention collective",
		"prud'hommes",
	},
	domain.DomainAffaires: {
		"société", "commercial", "entreprise", "associé", "fonds de commerce",
		"responsabilité", "liquidation", "gérant", "statuts",
	},
	domain.DomainFamille: {
		"famille", "mariage", "divorce", "adoption", "garde", "pension alimentaire",
		"succession", "filiation", "autorité parentale",
	},
	domain.DomainImmobilier: {
		"immobilier", "bail", "loyer", "propriété", "copropriété", "logement",
		"locataire", "bailleur", "servitude",
	},
	domain.DomainConsommation: {
		"consommateur", "garantie", "défaut", "achat", "vente", "remboursement",
		"démarchage", "clause abusive", "rétractation",
	},
	domain.DomainPenal: {
		"pénal", "infraction", "crime", "délit", "peine", "amende", "prison",
		"récidive", "garde à vue",
	},
}

type classifier struct {
	minConfidence float64
}

func newClassifier() *classifier {
	return &classifier{minConfidence: 0.2}
}

// classify scores every taxonomy label by lexicon hits over title+body and
// returns the winner with its share of all hits. Below the confidence
// floor, or with no hits at all, the document lands in "autre".
func (c *classifier) classify(title, text string) (domain.LegalDomain, float64) {
	haystack := strings.ToLower(title + " " + text)

	scores := make(map[domain.LegalDomain]int, len(lexicon))
	total := 0
	for label, terms := range lexicon {
		for _, term := range terms {
			n := strings.Count(haystack, term)
			scores[label] += n
			total += n
		}
	}
	if total == 0 {
		return domain.DomainAutre, 0
	}

	best := domain.DomainAutre
	bestScore := 0
	for _, label := range domain.Taxonomy() {
		if scores[label] > bestScore {
			best = label
			bestScore = scores[label]
		}
	}

	confidence := float64(bestScore) / float64(total)
	if confidence < c.minConfidence {
		return domain.DomainAutre, confidence
	}
	return best, confidence
}
