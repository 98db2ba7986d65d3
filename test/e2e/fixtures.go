// Package e2e runs the whole pipeline over HTTP against a large corpus.
package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions lists the file types the fixtures can produce.
// PDF is left to the extract package tests; generating one with
// extractable text needs a PDF writer.
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst",
	".docx", ".xlsx", ".pptx",
}

// WriteMinimalFile returns the bytes of a minimal file of type ext holding text.
func WriteMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".txt", ".md", ".rst":
		return []byte(text), nil
	case ".docx":
		return minimalDocx(text)
	case ".pptx":
		return minimalPptx(text)
	case ".xlsx":
		return minimalXlsx(text)
	default:
		return nil, fmt.Errorf("no fixture for %q", ext)
	}
}

func zipEntries(entries map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		fw, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// minimalDocx writes one paragraph per line of text.
func minimalDocx(text string) ([]byte, error) {
	var body strings.Builder
	for _, line := range strings.Split(text, "\n") {
		body.WriteString(`<w:p><w:r><w:t>` + html.EscapeString(line) + `</w:t></w:r></w:p>`)
	}
	return zipEntries(map[string]string{
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
	})
}

func minimalPptx(text string) ([]byte, error) {
	return zipEntries(map[string]string{
		"ppt/slides/slide1.xml": `<p:sld xmlns:p="a" xmlns:a="b"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
			html.EscapeString(text) + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`,
	})
}

func minimalXlsx(text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, line := range strings.Split(text, "\n") {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue("Sheet1", cell, line); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
