package compression

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

type LZ4 struct{}

func NewLZ4() *LZ4 { return &LZ4{} }

func (*LZ4) Name() string { return "lz4" }

func (*LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (*LZ4) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
