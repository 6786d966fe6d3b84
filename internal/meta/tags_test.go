package meta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadTags_UntaggedFile(t *testing.T) {
	// A file with no recognizable tag container yields empty tags, not an error
	path := filepath.Join(t.TempDir(), "noise.mp3")
	if err := os.WriteFile(path, []byte("not really audio"), 0644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	tags, err := ReadTags(path)
	if err != nil {
		t.Fatalf("ReadTags() error = %v, expected nil for untagged file", err)
	}
	if tags.Artist != "" || tags.Title != "" {
		t.Errorf("ReadTags() = %+v, expected empty tags", tags)
	}
}

func TestReadTags_MissingFile(t *testing.T) {
	_, err := ReadTags(filepath.Join(t.TempDir(), "does-not-exist.mp3"))
	if err == nil {
		t.Error("ReadTags() expected error for missing file, got nil")
	}
}
