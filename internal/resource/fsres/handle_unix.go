//go:build unix

package fsres

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fileHandle identifies a file by device and inode, which survive renames
// and moves within one filesystem.
func fileHandle(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return fmt.Sprintf("%d:%d", uint64(st.Dev), uint64(st.Ino)), nil
}
