package search

import (
	"testing"

	"github.com/hyperjump/tebiki/internal/models"
)

func results(scores ...float64) []*models.SearchResult {
	out := make([]*models.SearchResult, len(scores))
	for i, s := range scores {
		out[i] = &models.SearchResult{ID: int64(i + 1), Score: s}
	}
	return out
}

func TestRerank(t *testing.T) {
	tests := []struct {
		name    string
		in      []*models.SearchResult
		top     int
		min     float64
		wantIDs []int64
	}{
		{"sorts and truncates", results(0.5, 0.9, 0.7, 0.8), 3, 0, []int64{2, 4, 3}},
		{"fewer than top", results(0.4, 0.6), 3, 0, []int64{2, 1}},
		{"floor after truncation", results(0.9, 0.3, 0.2), 2, 0.25, []int64{1, 2}},
		{"floor drops all", results(0.1, 0.2), 3, 0.25, []int64{}},
		{"stable ties", results(0.5, 0.5, 0.5), 2, 0, []int64{1, 2}},
		{"empty", nil, 3, 0, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rerank(tt.in, tt.top, tt.min)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.wantIDs))
			}
			for i, r := range got {
				if r.ID != tt.wantIDs[i] {
					t.Errorf("result %d: id %d, want %d", i, r.ID, tt.wantIDs[i])
				}
				if i > 0 && got[i-1].Score < r.Score {
					t.Errorf("scores not descending at %d", i)
				}
			}
		})
	}
}

func TestRerank_doesNotMutateInput(t *testing.T) {
	in := results(0.1, 0.9)
	_ = Rerank(in, 1, 0)
	if in[0].ID != 1 || in[1].ID != 2 {
		t.Errorf("input reordered: %d, %d", in[0].ID, in[1].ID)
	}
}
