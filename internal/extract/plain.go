package extract

import "strings"

// extractPlain returns content as a string. Invalid UTF-8 sequences become U+FFFD
// so the text can be stored and embedded.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), "�"), nil
}
