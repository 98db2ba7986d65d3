// Package docid derives the SHA-1 identities used for documents and chunks.
package docid

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// KeyIDPrefix marks keyed ids. Content ids are bare hex and never carry it.
const KeyIDPrefix = "k-"

// Hash returns the lowercase SHA-1 hex digest of s.
func Hash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ContentID is the document id of a content-addressed ingest: SHA-1 of the raw text.
func ContentID(text string) string {
	return Hash(text)
}

// KeyID is the document id of a keyed ingest: KeyIDPrefix followed by the
// SHA-1 of the key. The same key always yields the same id regardless of content.
func KeyID(key string) string {
	return KeyIDPrefix + Hash(key)
}

// Resolve returns the document id for an ingest of text under an optional key.
func Resolve(key, text string) string {
	if key == "" {
		return ContentID(text)
	}
	return KeyID(key)
}

// FileKey returns a stable key for path, relative to root when path is
// inside it, using forward slashes so ids do not depend on the host OS.
func FileKey(root, path string) string {
	path = filepath.Clean(path)
	if root != "" {
		if rel, err := filepath.Rel(filepath.Clean(root), path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	return filepath.ToSlash(path)
}
