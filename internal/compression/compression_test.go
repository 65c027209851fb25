package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	payload := strings.Repeat("archive federation ", 512)

	for _, codec := range []Codec{NewZstd(1), NewZstd(3), NewZstd(0), NewLZ4()} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := codec.NewWriter(&buf)
			require.NoError(t, err)
			_, err = io.WriteString(w, payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			assert.Less(t, buf.Len(), len(payload))

			r, err := codec.NewReader(&buf)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestZstdRejectsGarbage(t *testing.T) {
	r, err := NewZstd(2).NewReader(strings.NewReader("definitely not zstd"))
	require.NoError(t, err)
	defer r.Close()
	_, err = io.ReadAll(r)
	assert.Error(t, err)
}
