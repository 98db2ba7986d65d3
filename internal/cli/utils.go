// Package cli renders API results for the tebiki command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewLen is how much chunk content text output shows, in characters.
const previewLen = 200

const rule = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a similarity search answer to w in the given format.
// Unknown formats are treated as text.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s (threshold %.2f, %dms)\n\n", resp.Message, resp.Stats.SimilarityThreshold, resp.Stats.ProcessingTime)
	for i, r := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d | Score: %.4f | %s (chunk %d)\n", i+1, r.Score, r.Filename, r.Page)
		writeTags(w, r.Tags)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Content, previewLen))
	}
	return nil
}

// WriteTagResults writes a tag search answer to w in the given format.
func WriteTagResults(w io.Writer, resp *models.TagSearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Message)
	for _, c := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s (chunk %d)\n", c.Filename, c.Page)
		writeTags(w, c.Tags)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(c.Content, previewLen))
	}
	return nil
}

// WriteIngestResult writes one ingest outcome, prefixed by source (a file name).
func WriteIngestResult(w io.Writer, source string, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "%s: %s\n", source, res.Message)
	fmt.Fprintf(w, "  doc_id=%s version=%d chunks=%d tokens=%d (%dms)\n",
		res.DocID, res.Version, res.Chunks, res.Stats.TotalTokens, res.Stats.ProcessingTime)
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped vector for chunk %d: expected %d dimensions, got %d\n", s.Page, s.Expected, s.Actual)
	}
	return nil
}

// WriteStats writes corpus counts and, when present, the top tags.
func WriteStats(w io.Writer, stats *models.CorpusStats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	fmt.Fprintf(w, "Documents: %d\nChunks:    %d\nVectors:   %d\n", stats.Documents, stats.Chunks, stats.Vectors)
	if len(stats.TopTags) > 0 {
		fmt.Fprintln(w, "Top tags:")
		for _, t := range stats.TopTags {
			fmt.Fprintf(w, "  %-24s %d\n", t.Tag, t.Count)
		}
	}
	return nil
}

// WriteChanges writes one config change per line, or a note when there are none.
func WriteChanges(w io.Writer, changes []string) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "No changes")
		return
	}
	for _, c := range changes {
		fmt.Fprintf(w, "  %s\n", c)
	}
}

func writeTags(w io.Writer, tags []string) {
	if len(tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(tags, ", "))
	}
}
