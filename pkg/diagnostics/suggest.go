package diagnostics

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggest returns the candidate closest to target, or "" when nothing is
// close enough to be worth mentioning.
func Suggest(target string, candidates []string) string {
	if target == "" || len(candidates) == 0 {
		return ""
	}
	// Prefer candidates that contain target as a subsequence (abbreviations),
	// then fall back to edit distance for typos.
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	// Allow two edits so a swapped pair of letters still matches, but
	// never so many that the whole name is replaced.
	n := len([]rune(target))
	limit := max(n/3, 2)
	limit = min(limit, n-1)
	if limit < 1 {
		return ""
	}
	best, bestDist := "", limit+1
	for _, c := range candidates {
		if c == target {
			continue
		}
		d := fuzzy.LevenshteinDistance(target, c)
		if d < bestDist || (d == bestDist && c < best) {
			best, bestDist = c, d
		}
	}
	if bestDist > limit {
		return ""
	}
	return best
}

// DidYouMean formats Suggest's result as a hint, or "" when there is none.
func DidYouMean(target string, candidates []string) string {
	if s := Suggest(target, candidates); s != "" {
		return "did you mean '" + s + "'?"
	}
	return ""
}
