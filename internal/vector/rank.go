package vector

import "sort"

// Candidate is a stored embedding keyed by its chunk id.
type Candidate struct {
	ID     int64
	Vector []float32
}

// Scored is a candidate id with its similarity to the query.
type Scored struct {
	ID    int64
	Score float64
}

// Rank scores every candidate against query, keeps those scoring at least
// threshold, orders them by descending score (ties by ascending id) and
// returns at most limit of them. Candidates whose dimension differs from
// the query are ignored.
func Rank(query []float32, candidates []Candidate, threshold float64, limit int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			continue
		}
		s := CosineSimilarity(query, c.Vector)
		if s >= threshold {
			scored = append(scored, Scored{ID: c.ID, Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
