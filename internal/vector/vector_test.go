package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRank(t *testing.T) {
	cands := []Candidate{
		{ID: 1, Vector: []float32{0, 1, 0}},
		{ID: 2, Vector: []float32{0.9, 0.1, 0}},
		{ID: 3, Vector: []float32{1, 0, 0}},
		{ID: 4, Vector: []float32{1, 0}},
		{ID: 5, Vector: []float32{1, 0, 0}},
	}
	got := Rank([]float32{1, 0, 0}, cands, 0.5, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 results above threshold, got %v", got)
	}
	if got[0].ID != 3 || got[1].ID != 5 || got[2].ID != 2 {
		t.Errorf("unexpected order %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Score < got[i].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
	if capped := Rank([]float32{1, 0, 0}, cands, 0, 2); len(capped) != 2 {
		t.Errorf("limit not applied: %v", capped)
	}
	if none := Rank([]float32{1, 0, 0}, cands, 1.1, 10); len(none) != 0 {
		t.Errorf("threshold above 1 should return nothing, got %v", none)
	}
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := Decode(Encode(v))
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: %f != %f", i, got[i], v[i])
		}
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated buffer")
	}
}
