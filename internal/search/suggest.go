package search

import (
	"sort"
	"strings"

	"github.com/docdex/docdex/internal/scanner"
)

// maxSuggestDistance is the largest edit distance still considered a typo.
const maxSuggestDistance = 3

// suggestDocTypes returns known doc types within edit distance of the input,
// closest first.
func suggestDocTypes(input string) []string {
	input = strings.ToLower(input)

	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	for _, known := range scanner.KnownDocTypes() {
		d := editDistance(input, known)
		if d <= maxSuggestDistance {
			candidates = append(candidates, scored{name: known, dist: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.name)
	}
	return names
}

// editDistance is the Levenshtein distance with a two-row table.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
