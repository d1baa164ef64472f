package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLZ4RoundTrip(t *testing.T) {
	c := New()

	cases := [][]byte{
		{},
		[]byte("hello entropy"),
		bytes.Repeat([]byte{0xFF}, 10_000),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200),
	}

	for _, data := range cases {
		compressed, err := c.Compress(data)
		require.NoError(t, err)

		out, err := c.Decompress(compressed)
		require.NoError(t, err)

		assert.Equal(t, data, out)
	}
}

func TestLZ4ReducesSizeForCompressibleData(t *testing.T) {
	c := New()
	data := bytes.Repeat([]byte{0x00}, 100_000)

	compressed, err := c.Compress(data)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(data))
}
