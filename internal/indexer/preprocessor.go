package indexer

import "strings"

// Normalize prepares text for chunking: line breaks and runs of whitespace
// become single spaces and the result is trimmed. Original line structure
// is not recoverable afterwards.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
