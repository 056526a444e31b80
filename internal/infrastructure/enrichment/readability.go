package enrichment

import (
	"strings"
	"unicode"
)

// readability computes the Kandel-Moles adaptation of Flesch reading ease
// for French: 207 - 1.015*(words/sentences) - 73.6*(syllables/words).
// Higher is easier; legal prose usually lands well under 50.
func readability(text string) float64 {
	sentences := countSentences(text)
	words := 0
	syllables := 0
	for _, w := range strings.Fields(text) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if w == "" {
			continue
		}
		words++
		syllables += countSyllables(w)
	}
	if words == 0 || sentences == 0 {
		return 0
	}
	score := 207 - 1.015*(float64(words)/float64(sentences)) - 73.6*(float64(syllables)/float64(words))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}

// countSyllables approximates French syllables as vowel groups, with a
// terminal mute "e" discounted.
func countSyllables(word string) int {
	word = strings.ToLower(word)
	isVowel := func(r rune) bool {
		return strings.ContainsRune("aeiouyàâéèêëîïôùûü", r)
	}
	runes := []rune(word)
	n := 0
	prevVowel := false
	for _, r := range runes {
		v := isVowel(r)
		if v && !prevVowel {
			n++
		}
		prevVowel = v
	}
	if len(runes) > 2 && runes[len(runes)-1] == 'e' && n > 1 {
		n--
	}
	if n == 0 {
		return 1
	}
	return n
}
