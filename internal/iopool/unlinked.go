package iopool

import "os"

func createUnlinked(dir string) (*os.File, error) {
	f, err := os.CreateTemp(dir, "archivefs-*")
	if err != nil {
		return nil, err
	}
	// Removing an open file fails on some platforms; the file is then only
	// cleaned up by the temp directory policy.
	_ = os.Remove(f.Name())
	return f, nil
}
