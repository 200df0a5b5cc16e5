//go:build !unix

package fsres

import (
	"fmt"
	"os"
	"path/filepath"
)

// fileHandle falls back to the absolute path where inodes are unavailable.
// Renames cannot be followed on these platforms.
func fileHandle(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "path:" + abs, nil
}
