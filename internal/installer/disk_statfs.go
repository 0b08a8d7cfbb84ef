//go:build linux || darwin

package installer

import (
	"golang.org/x/sys/unix"
)

// freeSpaceMB returns the space available to unprivileged users on the filesystem holding path.
func freeSpaceMB(path string) (uint64, bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, true, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize) / (1024 * 1024), true, nil
}
