package enrichment

import (
	"sort"
	"strings"
	"unicode"
)

// French stopwords, the short list that matters for legal prose.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"le", "la", "les", "l", "un", "une", "des", "du", "de", "d",
		"et", "ou", "où", "que", "qui", "quoi", "dont", "ne", "pas",
		"à", "au", "aux", "en", "dans", "sur", "sous", "par", "pour",
		"avec", "sans", "entre", "vers", "chez", "est", "sont", "être",
		"a", "ont", "avoir", "fait", "faire", "peut", "peuvent", "doit",
		"doivent", "il", "elle", "ils", "elles", "on", "nous", "vous",
		"je", "tu", "se", "sa", "son", "ses", "leur", "leurs", "ce",
		"cet", "cette", "ces", "celui", "celle", "ceux", "même", "tout",
		"tous", "toute", "toutes", "autre", "autres", "ainsi", "alors",
		"donc", "mais", "car", "si", "lorsque", "lorsqu", "quand",
		"comme", "plus", "moins", "très", "aussi", "bien", "encore",
		"non", "oui", "y", "s", "n", "c", "qu", "j", "m", "t",
	} {
		stopwords[w] = struct{}{}
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-'
	})
}

// topKeywords returns the most frequent content words, frequency then
// alphabetical order so runs over the same text agree.
func topKeywords(text string, limit int) []string {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		tok = strings.Trim(tok, "-")
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		counts[tok]++
	}
	if len(counts) == 0 {
		return nil
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// ExtractQueryKeywords exposes the same tokenization for retrieval, so
// index-side and query-side keyword sets match.
func ExtractQueryKeywords(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range tokenize(query) {
		tok = strings.Trim(tok, "-")
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
