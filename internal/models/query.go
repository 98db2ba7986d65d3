package models

import (
	"fmt"
	"unicode/utf8"
)

// MaxQueryLength is the longest accepted search query, in characters.
const MaxQueryLength = 1000

// SearchQuery is a similarity search request. Nil Limit and Threshold mean
// "use the configured retrieveK and similarityThreshold".
type SearchQuery struct {
	Query     string   `json:"query"`
	Limit     *int     `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Validate checks the query text and any explicit overrides.
func (q *SearchQuery) Validate() error {
	n := utf8.RuneCountInString(q.Query)
	if n == 0 {
		return NewValidationError("q: query cannot be empty")
	}
	if n > MaxQueryLength {
		return NewValidationError(fmt.Sprintf("q: must be at most %d characters", MaxQueryLength))
	}
	if q.Limit != nil && (*q.Limit < 1 || *q.Limit > 50) {
		return NewValidationError("limit: must be between 1 and 50")
	}
	if q.Threshold != nil && (*q.Threshold < 0 || *q.Threshold > 1) {
		return NewValidationError("threshold: must be between 0 and 1")
	}
	return nil
}
