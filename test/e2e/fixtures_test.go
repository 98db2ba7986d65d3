package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/tebiki/internal/extract"
)

func TestWriteMinimalFile_AllExtensionsExtractable(t *testing.T) {
	e := extract.NewExtractor()
	sample := "E2E searchable content\nsecond line"
	for _, ext := range SupportedFileExtensions {
		t.Run(ext, func(t *testing.T) {
			content, err := WriteMinimalFile(ext, sample)
			if err != nil {
				t.Fatalf("WriteMinimalFile: %v", err)
			}
			if len(content) == 0 {
				t.Fatal("empty content")
			}
			got, err := e.ExtractBytes(content, ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if !strings.Contains(got, "E2E searchable content") || !strings.Contains(got, "second line") {
				t.Errorf("extracted text %q does not contain %q", got, sample)
			}
		})
	}
}

func TestWriteMinimalFile_Unknown(t *testing.T) {
	if _, err := WriteMinimalFile(".odt", "x"); err == nil {
		t.Error("expected an error for a type without a fixture")
	}
}
