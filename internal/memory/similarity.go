// Package memory implements the long-term memory heuristics that sit above
// the repository: textual similarity deduplication, user-fact extraction
// and the memory service consumed by the pipeline and the memory tools.
package memory

import "strings"

// DedupThreshold is the similarity ratio above which a new memory counts
// as a duplicate of an existing active memory.
const DedupThreshold = 0.8

// SimilarityRatio computes 2*LCS/(len(a)+len(b)) over normalized text,
// the classic sequence-matcher ratio. 1.0 means identical, 0.0 disjoint.
func SimilarityRatio(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		if a == "" {
			return 1.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	lcs := lcsLength(a, b)
	return 2.0 * float64(lcs) / float64(len(a)+len(b))
}

// IsDuplicate reports whether content matches any existing entry above the
// dedup threshold.
func IsDuplicate(content string, existing []string) bool {
	for _, e := range existing {
		if SimilarityRatio(content, e) > DedupThreshold {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// lcsLength is the longest-common-subsequence length over bytes, computed
// with a two-row rolling table. Memory content is short; quadratic time
// is fine here.
func lcsLength(a, b string) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for j := 1; j <= len(b); j++ {
		for i := 1; i <= len(a); i++ {
			if a[i-1] == b[j-1] {
				curr[i] = prev[i-1] + 1
			} else if prev[i] >= curr[i-1] {
				curr[i] = prev[i]
			} else {
				curr[i] = curr[i-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}
