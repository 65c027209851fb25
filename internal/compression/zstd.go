package compression

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd maps level 1 to the fastest, 3 to the best and anything else to
// the default encoder level.
func NewZstd(level int) *Zstd {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}
	return &Zstd{level: encoderLevel}
}

func (*Zstd) Name() string { return "zstd" }

func (z *Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

func (z *Zstd) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(z.level),
		zstd.WithEncoderConcurrency(1),
	)
}
