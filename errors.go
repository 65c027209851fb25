package archivefs

import "errors"

var (
	ErrClosed      = errors.New("archivefs: manager is closed")
	ErrOutsideRoot = errors.New("archivefs: path is outside of the host root")
	ErrIsDirectory = errors.New("archivefs: is a directory")
)
