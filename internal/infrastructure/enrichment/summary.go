package enrichment

import (
	"strings"
	"unicode/utf8"
)

// leadingSummary keeps the first sentences of the text within the given
// budgets. Abbreviated "art." and decimal article numbers do not end a
// sentence.
func leadingSummary(text string, maxSentences, maxChars int) string {
	text = strings.ReplaceAll(text, "\n", " ")

	var b strings.Builder
	sentences := 0
	start := 0
	for i := 0; i < len(text) && sentences < maxSentences; i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		if text[i] == '.' && !endsSentence(text, i) {
			continue
		}
		b.WriteString(strings.TrimSpace(text[start : i+1]))
		b.WriteByte(' ')
		start = i + 1
		sentences++
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" && strings.TrimSpace(text) != "" {
		summary = strings.TrimSpace(text)
	}
	if maxChars > 0 && len(summary) > maxChars {
		cut := strings.LastIndexByte(summary[:maxChars], ' ')
		if cut <= 0 {
			// No space to break on; back up so the cut lands on a rune
			// boundary instead of splitting an accented character.
			cut = maxChars
			for cut > 0 && !utf8.RuneStart(summary[cut]) {
				cut--
			}
		}
		summary = strings.TrimSpace(summary[:cut]) + "…"
	}
	return summary
}

func endsSentence(text string, i int) bool {
	// "art. L. 1234-1" and "1.5" should not split.
	if i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9' {
		return false
	}
	tail := strings.ToLower(text[max(0, i-4):i])
	for _, abbr := range []string{"art", " al", " n°", " cf", " l", " r", " d"} {
		if strings.HasSuffix(tail, abbr) {
			return false
		}
	}
	return true
}
