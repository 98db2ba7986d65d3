package embedding

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter reports how many model tokens a text consumes.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter counts with the BPE encoding of an OpenAI model.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for model, falling back to cl100k_base
// for models tiktoken does not know. Loading an encoding may download its
// rank file on first use.
func NewTokenCounter(model string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		return 0
	}
	return h
}
