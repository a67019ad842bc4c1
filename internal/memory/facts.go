package memory

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// factPatterns extract durable user facts from active memories. Matches
// are surfaced as a dedicated high-priority system message so the model
// never has to dig them out of the memory dump.
var factPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:my name is|me llamo|user(?:'s)? name(?: is)?:?)\s+([\p{L} .'-]{2,40})`),
	regexp.MustCompile(`(?i)\b(?:i live in|lives? in|vivo en|based in)\s+([\p{L} ,.'-]{2,60})`),
	regexp.MustCompile(`(?i)\b(?:i work (?:at|as)|works? (?:at|as)|trabajo (?:en|como))\s+([\p{L}\d ,.'-]{2,60})`),
	regexp.MustCompile(`(?i)\b(?:i prefer|prefers?|prefiero)\s+([^.\n]{2,80})`),
	regexp.MustCompile(`(?i)\b(?:my timezone is|timezone:?)\s+([\w/+-]{2,40})`),
}

// ExtractUserFacts scans active memories and returns deduplicated fact
// sentences in discovery order. Self-correction memories are private to
// the runtime and skipped.
func ExtractUserFacts(memories []models.Memory) []string {
	var facts []string
	seen := make(map[string]bool)
	for _, m := range memories {
		if m.Category == models.CategorySelfCorrection {
			continue
		}
		for _, re := range factPatterns {
			for _, match := range re.FindAllStringSubmatch(m.Content, -1) {
				fact := strings.TrimSpace(strings.TrimRight(match[0], " .,"))
				key := strings.ToLower(fact)
				if fact == "" || seen[key] {
					continue
				}
				seen[key] = true
				facts = append(facts, fact)
			}
		}
	}
	return facts
}
