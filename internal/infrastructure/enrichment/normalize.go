package enrichment

import (
	"regexp"
	"strings"
)

var (
	multiSpace  = regexp.MustCompile(`[ \t]+`)
	multiBlank  = regexp.MustCompile(`\n{3,}`)
	// Boilerplate lines that legal portals inject around the text body.
	boilerplate = regexp.MustCompile(`(?im)^\s*(imprimer|copier le lien|partager|retour en haut de page|version en vigueur.*|naviguer dans le sommaire.*)\s*$`)
)

// Common mojibake sequences from latin-1 decoded as utf-8 round trips.
var mojibake = strings.NewReplacer(
	"Ã©", "é",
	"Ã¨", "è",
	"Ãª", "ê",
	"Ã ", "à",
	"Ã¢", "â",
	"Ã´", "ô",
	"Ã»", "û",
	"Ã§", "ç",
	"Ã®", "î",
	"Å“", "œ",
	"â€™", "’",
	"â€œ", "«",
	"â€", "»",
	" ", " ",
)

func normalize(text string) string {
	text = mojibake.Replace(text)
	text = boilerplate.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = multiSpace.ReplaceAllString(text, " ")
	text = multiBlank.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
