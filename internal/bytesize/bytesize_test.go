package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1472", 1472},
		{"1Ki", KiB},
		{"64Ki", 64 * KiB},
		{"1KiB", KiB},
		{"1Mi", MiB},
		{"1.5Mi", MiB + 512*KiB},
		{"1Gi", GiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"2 Gi", 2 * GiB},
		{"1mib", MiB},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "12X", "-5", "1.2.3Mi"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KiB, "1KiB"},
		{64 * KiB, "64KiB"},
		{MiB + 512*KiB, "1.5MiB"},
		{GiB, "1GiB"},
		{TiB, "1TiB"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.String())
	}
}

func TestTextRoundTrip(t *testing.T) {
	text, err := ByteSize(64 * KiB).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "64KiB", string(text))

	var b ByteSize
	require.NoError(t, b.UnmarshalText(text))
	assert.Equal(t, ByteSize(64*KiB), b)

	assert.Error(t, b.UnmarshalText([]byte("nope")))
}
