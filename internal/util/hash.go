package util

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
)

// ContentHash creates a SHA1 hash of file content.
// Used for integrity checks after downloads.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// QuickKey creates a cheap change-detection key from size and mtime.
// The scanner uses it to skip re-reading tags from unchanged files.
func QuickKey(size int64, mtimeUnix int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d:%d", size, mtimeUnix)
	return fmt.Sprintf("%x", h.Sum(nil))
}
