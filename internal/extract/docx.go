package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

var (
	// wtTag matches <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// wpEnd marks paragraph boundaries.
	wpEnd = regexp.MustCompile(`</w:p>`)

	overrideTag  = regexp.MustCompile(`<Override\b[^>]*>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
)

// docxMainPart finds the main document part named in [Content_Types].xml,
// whatever the attribute order, without the leading slash.
func docxMainPart(contentTypes []byte) string {
	for _, o := range overrideTag.FindAll(contentTypes, -1) {
		if !strings.Contains(string(o), `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameAttr.FindSubmatch(o); m != nil {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return ""
}

// extractDOCX returns the text runs of the main document, one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip("DOCX", content)
	if err != nil {
		return "", err
	}
	docPath := docxDocumentXMLPath
	if ct, err := readEntry(zr, contentTypesPath); err == nil && ct != nil {
		if p := docxMainPart(ct); p != "" {
			docPath = p
		}
	}
	body, err := readEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var lines []string
	for _, para := range wpEnd.Split(string(body), -1) {
		if t := runText(wtTag, []byte(para)); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}
