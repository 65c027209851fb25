package iopool

import (
	"os"

	"golang.org/x/sys/unix"
)

// openTemp opens an unnamed file in dir which vanishes when it is closed.
func openTemp(dir string) (*os.File, error) {
	fd, err := unix.Open(dir, unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		// Not every file system supports O_TMPFILE.
		return createUnlinked(dir)
	}
	return os.NewFile(uintptr(fd), dir), nil
}
