package search

import (
	"sort"

	"github.com/hyperjump/tebiki/internal/models"
)

// Rerank orders candidates by descending score, keeps the first top and
// then drops any scoring below minScore. Ties keep storage order.
func Rerank(candidates []*models.SearchResult, top int, minScore float64) []*models.SearchResult {
	sorted := make([]*models.SearchResult, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if top >= 0 && len(sorted) > top {
		sorted = sorted[:top]
	}
	out := sorted[:0]
	for _, r := range sorted {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}
