//go:build !linux

package iopool

import "os"

func openTemp(dir string) (*os.File, error) {
	return createUnlinked(dir)
}
