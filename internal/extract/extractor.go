// Package extract turns uploaded or watched documents into plain text for ingest.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat is returned for binary content with no registered format.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrTooLarge is returned by ExtractReader when the input exceeds its limit.
	ErrTooLarge = errors.New("document too large")
)

type formatFunc func(content []byte) (string, error)

var formats = map[string]formatFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	"":      extractPlain,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extensions lists the registered extensions, sorted, without the empty one.
func Extensions() []string {
	out := make([]string, 0, len(formats))
	for ext := range formats {
		if ext != "" {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// Supported reports whether ext has a registered format.
func Supported(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractReader reads at most limit bytes from r and extracts them using
// the extension of name. A non-positive limit means no limit.
func (e *Extractor) ExtractReader(r io.Reader, name string, limit int64) (string, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if limit > 0 && int64(len(content)) > limit {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, limit)
	}
	return e.ExtractBytes(content, filepath.Ext(name))
}

// ExtractBytes extracts text from content based on ext, which includes the
// leading dot. Unknown extensions are read as plain text when the content
// is valid UTF-8.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := formats[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return string(content), nil
}
