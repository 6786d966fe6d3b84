package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")

	if err := os.WriteFile(path, []byte("audio bytes"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	hash1, err := ContentHash(path)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if len(hash1) != 40 {
		t.Errorf("expected 40-char SHA1 hex, got %d chars: %s", len(hash1), hash1)
	}

	// Same content hashes identically
	hash2, err := ContentHash(path)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if hash1 != hash2 {
		t.Errorf("hash not stable: %s vs %s", hash1, hash2)
	}

	// Different content hashes differently
	other := filepath.Join(dir, "other.mp3")
	if err := os.WriteFile(other, []byte("different bytes"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	hash3, err := ContentHash(other)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if hash1 == hash3 {
		t.Error("different content produced identical hashes")
	}
}

func TestContentHash_MissingFile(t *testing.T) {
	_, err := ContentHash(filepath.Join(t.TempDir(), "missing.mp3"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestQuickKey(t *testing.T) {
	tests := []struct {
		name      string
		sizeA     int64
		mtimeA    int64
		sizeB     int64
		mtimeB    int64
		wantEqual bool
	}{
		{"identical", 1024, 1700000000, 1024, 1700000000, true},
		{"size differs", 1024, 1700000000, 2048, 1700000000, false},
		{"mtime differs", 1024, 1700000000, 1024, 1700000001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := QuickKey(tt.sizeA, tt.mtimeA)
			b := QuickKey(tt.sizeB, tt.mtimeB)
			if (a == b) != tt.wantEqual {
				t.Errorf("QuickKey equality = %v, expected %v", a == b, tt.wantEqual)
			}
		})
	}
}
