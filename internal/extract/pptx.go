package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX returns the text of each slide in slide order, one slide per line.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip("PPTX", content)
	if err != nil {
		return "", err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePath.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	// slide10 follows slide9, not slide1.
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var lines []string
	for _, s := range slides {
		data, err := readEntry(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		if t := runText(atTag, data); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}
