package models

// SearchResult is one chunk returned by similarity search.
type SearchResult struct {
	ID       int64    `json:"id" db:"id"`
	DocID    string   `json:"doc_id" db:"doc_id"`
	Score    float64  `json:"score" db:"score"`
	Content  string   `json:"content" db:"content"`
	Filename string   `json:"filename" db:"filename"`
	Tags     []string `json:"tags" db:"tags"`
	Page     int      `json:"page" db:"page"`
}

// SearchStats describes how a search answer was produced.
type SearchStats struct {
	Query               string  `json:"query"`
	TotalResults        int     `json:"totalResults"`
	TopResults          int     `json:"topResults"`
	ProcessingTime      int64   `json:"processingTime"`
	EmbeddingDimension  int     `json:"embeddingDimension"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
}

// SearchResponse is the reranked answer of a similarity search.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	Stats   SearchStats     `json:"stats"`
	Message string          `json:"message"`
}

// TaggedChunk is a chunk returned by tag search; no score is involved.
type TaggedChunk struct {
	ID       int64    `json:"id" db:"id"`
	DocID    string   `json:"doc_id" db:"doc_id"`
	Content  string   `json:"content" db:"content"`
	Tags     []string `json:"tags" db:"tags"`
	Page     int      `json:"page" db:"page"`
	Filename string   `json:"filename" db:"filename"`
}

// TagSearchResponse is the answer of a tag-overlap search.
type TagSearchResponse struct {
	Results []*TaggedChunk `json:"results"`
	Tags    []string       `json:"tags"`
	Count   int            `json:"count"`
	Message string         `json:"message"`
}

// TagCount is the number of chunks carrying a tag.
type TagCount struct {
	Tag   string `json:"tag" db:"tag"`
	Count int64  `json:"count" db:"count"`
}

// Counts holds aggregate row counts of the store.
type Counts struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Vectors   int64 `json:"vectors"`
}

// CorpusStats is Counts plus the most used tags.
type CorpusStats struct {
	Counts
	TopTags []TagCount `json:"topTags"`
}
