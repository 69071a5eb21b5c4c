package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"500Mi", 500 * MiB},
		{"2Gi", 2 * GiB},
		{"100MB", 100 * MB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{" 10 mb ", 10 * MB},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "10Xi", "-5Mi", "1..5G"} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("256Mi")))
	assert.Equal(t, 256*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("nope")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.00KiB", KiB.String())
	assert.Equal(t, "2.50GiB", ByteSize(2.5*float64(GiB)).String())
}
