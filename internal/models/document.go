// Package models defines core data structures for documents, chunks, vectors, and search results.
package models

import "time"

// Document is one ingested source text. DocID is the SHA-1 hex digest of the
// raw text for content-addressed ingests, or "k-" plus the digest of the
// caller key for keyed ones.
type Document struct {
	DocID     string    `json:"doc_id" db:"doc_id"`
	Filename  string    `json:"filename" db:"filename"`
	Hash      string    `json:"hash" db:"hash"`
	Version   int       `json:"version" db:"version"`
	SourceKey *string   `json:"source_key,omitempty" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DocumentSummary is a document with its current chunk count.
type DocumentSummary struct {
	Document
	Chunks int `json:"chunks" db:"chunks"`
}

// Chunk is a page-numbered slice of a document's normalized text.
// ID is assigned by storage on insert.
type Chunk struct {
	ID        int64     `json:"id" db:"id"`
	DocID     string    `json:"doc_id" db:"doc_id"`
	Page      int       `json:"page" db:"page"`
	Content   string    `json:"content" db:"content"`
	Tags      []string  `json:"tags" db:"tags"`
	ChunkHash string    `json:"chunk_hash" db:"chunk_hash"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Vector is the embedding of exactly one chunk.
type Vector struct {
	ChunkID   int64     `json:"chunk_id" db:"chunk_id"`
	Embedding []float32 `json:"-" db:"embedding"`
}
