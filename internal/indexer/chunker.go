// Package indexer splits documents into chunks and runs the ingest pipeline
// that persists them with their embeddings.
package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/models"
)

// maxWordExtension bounds how far a cut may move forward to reach a space.
const maxWordExtension = 50

// TextChunk is one window of normalized text.
type TextChunk struct {
	Page    int
	Content string
	Hash    string
}

// Chunker splits normalized text into overlapping, page-numbered windows.
// Sizes are measured in characters (runes).
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker, or an error wrapping models.ErrInvalidChunkConfig
// unless size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", models.ErrInvalidChunkConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", models.ErrInvalidChunkConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// ChunkText is shorthand for NewChunker(size, overlap) followed by Chunk.
func ChunkText(text string, size, overlap int) ([]TextChunk, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}

// Chunk normalizes text and splits it. Text no longer than the window size
// yields exactly one chunk; whitespace-only text yields none.
func (c *Chunker) Chunk(text string) []TextChunk {
	runes := []rune(Normalize(text))
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.size {
		return []TextChunk{newTextChunk(1, string(runes))}
	}

	var chunks []TextChunk
	start := 0
	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}
		end = extendToSpace(runes, end)

		if content := strings.TrimSpace(string(runes[start:end])); content != "" {
			chunks = append(chunks, newTextChunk(len(chunks)+1, content))
		}
		if end >= n {
			break
		}
		start = max(start+1, end-c.overlap)
	}
	return chunks
}

// extendToSpace moves a cut that falls inside a word forward to the next
// space, provided one occurs within maxWordExtension characters.
func extendToSpace(runes []rune, end int) int {
	n := len(runes)
	if end >= n || runes[end] == ' ' || runes[end-1] == ' ' {
		return end
	}
	limit := min(n, end+maxWordExtension+1)
	for j := end + 1; j < limit; j++ {
		if runes[j] == ' ' {
			return j
		}
	}
	return end
}

func newTextChunk(page int, content string) TextChunk {
	return TextChunk{Page: page, Content: content, Hash: docid.Hash(content)}
}
