package search

import (
	"strings"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

// ProcessQuery validates the query and resolves its limit and threshold,
// falling back to retrieveK and similarityThreshold when unset.
func ProcessQuery(query *models.SearchQuery, cfg ragconfig.RagConfig) (limit int, threshold float64, err error) {
	if err := query.Validate(); err != nil {
		return 0, 0, err
	}
	limit, threshold = cfg.RetrieveK, cfg.SimilarityThreshold
	if query.Limit != nil {
		limit = *query.Limit
	}
	if query.Threshold != nil {
		threshold = *query.Threshold
	}
	return limit, threshold, nil
}

// ParseTags splits a comma-separated tag list, trimming blanks and
// dropping empty and repeated entries.
func ParseTags(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, models.NewValidationError("tags: parameter is required")
	}
	seen := make(map[string]bool)
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return nil, models.NewValidationError("tags: no valid tags provided")
	}
	return tags, nil
}
