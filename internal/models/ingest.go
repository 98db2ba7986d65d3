package models

// IngestRequest is the input of one ingest call.
// Key, when set, makes the document identity caller-supplied instead of content-derived.
type IngestRequest struct {
	Filename string   `json:"filename" validate:"required,min=1,max=255"`
	Text     string   `json:"text" validate:"required,min=1,max=1000000"`
	Tags     []string `json:"tags,omitempty" validate:"omitempty,dive,max=100"`
	Key      string   `json:"key,omitempty" validate:"omitempty,max=1024"`
}

// IngestStats summarizes the work done by one ingest.
type IngestStats struct {
	TotalChunks    int   `json:"totalChunks"`
	TotalTokens    int   `json:"totalTokens"`
	ProcessingTime int64 `json:"processingTime"`
	VectorsStored  int   `json:"vectorsStored"`
}

// SkippedVector records a chunk whose embedding was not stored because its
// dimension did not match the configured embedDim.
type SkippedVector struct {
	ChunkID  int64 `json:"chunkId"`
	Page     int   `json:"page"`
	Expected int   `json:"expected"`
	Actual   int   `json:"actual"`
}

// IngestResult is returned by a successful ingest, including the no-op path.
type IngestResult struct {
	DocID     string          `json:"doc_id"`
	Chunks    int             `json:"chunks"`
	Version   int             `json:"version"`
	Unchanged bool            `json:"unchanged"`
	Message   string          `json:"message"`
	Stats     IngestStats     `json:"stats"`
	Skipped   []SkippedVector `json:"skipped"`
}

const (
	// MessageIngested is reported when chunks and vectors were (re)generated.
	MessageIngested = "Document ingested successfully"
	// MessageUnchanged is reported when the stored hash matched and nothing was written.
	MessageUnchanged = "Document already exists with same content"
)
