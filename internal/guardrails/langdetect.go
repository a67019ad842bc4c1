package guardrails

import (
	"sort"
	"strings"
)

// langMinLength is the input size below which detection is unreliable;
// the language_match check never runs under it.
const langMinLength = 30

// stopwords per supported language. A compact heuristic beats a model
// here: replies are short and the pipeline only needs the ISO code.
var stopwords = map[string][]string{
	"en": {"the", "and", "is", "are", "to", "of", "in", "that", "for", "it", "with", "you", "this", "what", "today", "have"},
	"es": {"el", "la", "los", "las", "es", "son", "de", "en", "que", "para", "con", "qué", "hoy", "día", "una", "por", "como", "está"},
	"pt": {"o", "os", "as", "é", "são", "em", "que", "para", "com", "você", "não", "uma", "por", "como", "está", "hoje"},
	"fr": {"le", "la", "les", "est", "sont", "de", "en", "que", "pour", "avec", "vous", "une", "par", "comme", "aujourd", "quel"},
	"de": {"der", "die", "das", "ist", "sind", "und", "zu", "von", "mit", "du", "sie", "ein", "eine", "für", "heute", "was"},
	"it": {"il", "lo", "la", "gli", "le", "è", "sono", "di", "in", "che", "per", "con", "una", "come", "oggi", "cosa"},
}

// DetectLanguage returns the ISO 639-1 code of the dominant language and a
// confidence in [0,1]. Text shorter than 30 characters returns ("", 0):
// too little signal to act on.
func DetectLanguage(text string) (string, float64) {
	if len(text) < langMinLength {
		return "", 0
	}
	words := tokenizeWords(text)
	if len(words) == 0 {
		return "", 0
	}
	scores := make(map[string]int, len(stopwords))
	for lang, sw := range stopwords {
		set := make(map[string]bool, len(sw))
		for _, w := range sw {
			set[w] = true
		}
		for _, w := range words {
			if set[w] {
				scores[lang]++
			}
		}
	}
	langs := make([]string, 0, len(scores))
	for l := range scores {
		langs = append(langs, l)
	}
	// Deterministic tie-breaking.
	sort.Slice(langs, func(i, j int) bool {
		if scores[langs[i]] != scores[langs[j]] {
			return scores[langs[i]] > scores[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) == 0 || scores[langs[0]] == 0 {
		return "", 0
	}
	best := langs[0]
	return best, float64(scores[best]) / float64(len(words))
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= 'à' && r <= 'ÿ':
			return false
		}
		return true
	})
}
