package downloader

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reserveBytes is kept free on the download filesystem at all times
const reserveBytes = 512 * 1024 * 1024

// freeBytes returns the space available to unprivileged writers on the
// filesystem holding path
func freeBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// checkStorage verifies the download root can hold need more bytes while
// keeping the reserve free
func checkStorage(root string, need int64) error {
	free, err := freeBytes(root)
	if err != nil {
		return err
	}
	if free < need+reserveBytes {
		return fmt.Errorf("%w: %d bytes free, need %d", ErrInsufficientSpace, free, need+reserveBytes)
	}
	return nil
}
