package indexer

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/models"
)

// numberedWords returns "w0000 w0001 ..." so every chunk occurs exactly once in the text.
func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%04d", i)
	}
	return strings.Join(words, " ")
}

func TestNewChunker_invalid(t *testing.T) {
	tests := []struct {
		size, overlap int
	}{
		{0, 0}, {-1, 0}, {100, -1}, {100, 100}, {100, 150},
	}
	for _, tt := range tests {
		_, err := NewChunker(tt.size, tt.overlap)
		if !errors.Is(err, models.ErrInvalidChunkConfig) {
			t.Errorf("NewChunker(%d, %d) error = %v, want ErrInvalidChunkConfig", tt.size, tt.overlap, err)
		}
	}
	if _, err := ChunkText("text", 10, 10); !errors.Is(err, models.ErrInvalidChunkConfig) {
		t.Errorf("ChunkText should reject overlap == size, got %v", err)
	}
}

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	text := "Engine start sequence. Check oil. Check coolant. Start ignition. Verify oil pressure."
	chunks, err := ChunkText(text, 800, 80)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[0].Content != text {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
	if chunks[0].Hash != docid.Hash(text) {
		t.Errorf("hash should be SHA-1 of content")
	}
}

func TestChunker_ExactSizeIsSingleChunk(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks, _ := ChunkText(text, 100, 10)
	if len(chunks) != 1 {
		t.Errorf("text of exactly size should be 1 chunk, got %d", len(chunks))
	}
}

func TestChunker_EmptyText(t *testing.T) {
	c, _ := NewChunker(100, 10)
	if chunks := c.Chunk("  \r\n\t  "); chunks != nil {
		t.Errorf("whitespace-only text should return nil, got %v", chunks)
	}
}

func TestChunker_NormalizesWhitespace(t *testing.T) {
	chunks, _ := ChunkText("Check oil.\r\n\r\n  Check   coolant.\n", 100, 10)
	if len(chunks) != 1 || chunks[0].Content != "Check oil. Check coolant." {
		t.Errorf("unexpected chunks %+v", chunks)
	}
}

func TestChunker_PagesContiguous(t *testing.T) {
	chunks, _ := ChunkText(numberedWords(1000), 800, 80)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Page != i+1 {
			t.Errorf("chunk %d has page %d", i, ch.Page)
		}
		if ch.Content == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if ch.Hash != docid.Hash(ch.Content) {
			t.Errorf("chunk %d hash mismatch", i)
		}
	}
}

func TestChunker_CoverageAndOverlap(t *testing.T) {
	norm := Normalize(numberedWords(1000))
	chunks, _ := ChunkText(norm, 800, 80)

	covered := 0
	prevStart, prevEnd := -1, 0
	for i, ch := range chunks {
		idx := strings.Index(norm[prevStart+1:], ch.Content)
		if idx < 0 {
			t.Fatalf("chunk %d not found in normalized text", i)
		}
		start := prevStart + 1 + idx
		end := start + len(ch.Content)
		// Trimming may drop a single separating space.
		if start > covered+1 {
			t.Fatalf("gap before chunk %d: covered to %d, chunk starts at %d", i, covered, start)
		}
		if i > 0 {
			if shared := prevEnd - start; shared > 80 {
				t.Errorf("chunks %d and %d share %d chars, want <= 80", i-1, i, shared)
			}
		}
		covered = max(covered, end)
		prevStart, prevEnd = start, end
	}
	if covered != len(norm) {
		t.Errorf("chunks cover %d of %d chars", covered, len(norm))
	}
}

func TestChunker_CutsAtWordBoundary(t *testing.T) {
	norm := Normalize(numberedWords(1000))
	chunks, _ := ChunkText(norm, 800, 80)
	for i, ch := range chunks[:len(chunks)-1] {
		idx := strings.Index(norm, ch.Content)
		end := idx + len(ch.Content)
		if end < len(norm) && norm[end] != ' ' {
			t.Errorf("chunk %d ends mid-word: %q", i, ch.Content[len(ch.Content)-10:])
		}
	}
}

func TestChunker_UnbrokenTextCutsAtSize(t *testing.T) {
	chunks, _ := ChunkText(strings.Repeat("a", 2000), 800, 80)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantLens := []int{800, 800, 560}
	for i, ch := range chunks {
		if len(ch.Content) != wantLens[i] {
			t.Errorf("chunk %d len=%d, want %d", i, len(ch.Content), wantLens[i])
		}
	}
}

func TestChunker_ExtensionLimitedTo50(t *testing.T) {
	// A 60-char word straddles the cut: no space within 50 chars, so the raw cut stands.
	text := strings.Repeat("b", 90) + " " + strings.Repeat("c", 60) + " tail"
	chunks, _ := ChunkText(text, 100, 0)
	if len(chunks[0].Content) != 100 {
		t.Errorf("first chunk len=%d, want raw cut 100", len(chunks[0].Content))
	}

	// A 20-char word straddles the cut: extend to the following space.
	text = strings.Repeat("b", 90) + " " + strings.Repeat("c", 20) + " tail end"
	chunks, _ = ChunkText(text, 100, 0)
	if chunks[0].Content != strings.Repeat("b", 90)+" "+strings.Repeat("c", 20) {
		t.Errorf("first chunk = %q", chunks[0].Content)
	}
}

func TestChunker_Deterministic(t *testing.T) {
	text := numberedWords(500)
	a, _ := ChunkText(text, 300, 30)
	b, _ := ChunkText(text, 300, 30)
	if len(a) != len(b) {
		t.Fatal("chunk counts differ between runs")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestChunker_MultibyteCountsRunes(t *testing.T) {
	text := strings.Repeat("油圧確認 ", 100)
	chunks, _ := ChunkText(text, 100, 10)
	for i, ch := range chunks {
		if n := len([]rune(ch.Content)); n > 100+maxWordExtension {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("  a \r\n b\t\tc  ") != "a b c" {
		t.Error("expected trimmed and collapsed whitespace")
	}
}
