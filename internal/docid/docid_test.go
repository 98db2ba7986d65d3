package docid

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	// sha1("abc")
	if got := Hash("abc"); got != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("Hash(abc) = %q", got)
	}
	if len(Hash("")) != 40 {
		t.Error("hash of empty string should still be 40 hex chars")
	}
}

func TestContentID_distinctTexts(t *testing.T) {
	if ContentID("Check oil.") == ContentID("Check coolant.") {
		t.Error("different texts should give different ids")
	}
	if ContentID("Check oil.") != ContentID("Check oil.") {
		t.Error("same text should be deterministic")
	}
}

func TestKeyID_independentOfContent(t *testing.T) {
	if KeyID("manuals/engine.txt") != Resolve("manuals/engine.txt", "v1 text") {
		t.Error("Resolve with key should use KeyID")
	}
	if Resolve("manuals/engine.txt", "v1 text") != Resolve("manuals/engine.txt", "v2 text") {
		t.Error("keyed id must not change with content")
	}
	if KeyID("a") == ContentID("a") {
		t.Error("key ids are namespaced away from content ids")
	}
}

func TestKeyID_neverEqualsAContentID(t *testing.T) {
	key := "manual.txt"
	for _, text := range []string{key, "key:" + key, "k-" + key, KeyID(key), Hash(key)} {
		if ContentID(text) == KeyID(key) {
			t.Errorf("content id of %q collides with KeyID(%q)", text, key)
		}
	}
	if got := KeyID(key); !strings.HasPrefix(got, KeyIDPrefix) || len(got) != len(KeyIDPrefix)+40 {
		t.Errorf("KeyID(%q) = %q, want prefixed 40-hex digest", key, got)
	}
}

func TestResolve_noKeyIsContentAddressed(t *testing.T) {
	if Resolve("", "hello") != ContentID("hello") {
		t.Error("empty key should fall back to content id")
	}
}

func TestFileKey(t *testing.T) {
	root := filepath.Join("/srv", "kb")
	if got := FileKey(root, filepath.Join(root, "engine", "start.txt")); got != "engine/start.txt" {
		t.Errorf("FileKey inside root = %q", got)
	}
	if got := FileKey(root, filepath.Join(root, "engine", ".", "start.txt")); got != "engine/start.txt" {
		t.Errorf("FileKey should clean paths, got %q", got)
	}
	outside := filepath.Join("/tmp", "x.txt")
	if got := FileKey(root, outside); got != filepath.ToSlash(outside) {
		t.Errorf("FileKey outside root = %q", got)
	}
}
