package introspect

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
	}{
		{"empty", "", 4},
		{"single chunk", "Help on module math:\n\nNAME\n    math\n", 1000},
		{"exact multiple", "abcdefgh", 4},
		{"ragged tail", "abcdefghij", 3},
		{"chunk size one", "xyz", 1},
		{"newlines at chunk edges", "ab\n\ncd\n", 2},
		{"multibyte runes", "π ≈ 3.14159 · τ/2 ✓", 3},
		{"lines that look like frames", "CHUNK:3\nSIZE:9\n", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, EncodeHelp(&buf, tt.text, tt.chunkSize))

			stream, err := DecodeHelp(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.text, stream.Text)
			assert.Equal(t, len([]rune(tt.text)), stream.Declared)
		})
	}
}

func TestHelpLargeDocument(t *testing.T) {
	text := strings.Repeat("0123456789abcdef\n", 200_000) // 3.4M characters
	var buf bytes.Buffer
	require.NoError(t, EncodeHelp(&buf, text, DefaultChunkSize))

	stream, err := DecodeHelp(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, stream.Chunks)
	assert.Equal(t, len(text), len(stream.Text))
	assert.True(t, stream.Text == text)
}

func TestHelpDroppedChunkReportsMismatch(t *testing.T) {
	text := "aaaabbbbccccdd"
	frames := helpFrames(text, 4)
	require.Len(t, frames, 5)

	// Drop the "bbbb" chunk.
	stream := strings.Join(append(frames[:2:2], frames[3:]...), "")

	got, err := DecodeHelp(strings.NewReader(stream))
	var mismatch *SizeMismatchError
	require.True(t, errors.As(err, &mismatch), "expected size mismatch, got %v", err)
	assert.Equal(t, 14, mismatch.Declared)
	assert.Equal(t, 10, mismatch.Got)
	require.NotNil(t, got)
	assert.Equal(t, "aaaaccccdd", got.Text)
}

func TestHelpTruncatedChunk(t *testing.T) {
	stream := "SIZE:10\nCHUNK:6\nabcdefCHUNK:4\nghi"
	_, err := DecodeHelp(strings.NewReader(stream))
	// The first chunk overruns into the next header.
	assert.ErrorIs(t, err, errMalformedStream)

	stream = "SIZE:10\nCHUNK:6\nabcdef\nCHUNK:4\ngh"
	got, err := DecodeHelp(strings.NewReader(stream))
	var mismatch *SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "abcdefgh", got.Text)
	assert.Equal(t, 8, mismatch.Got)
}

func TestHelpCutAfterHeader(t *testing.T) {
	got, err := DecodeHelp(strings.NewReader("SIZE:5\nCHUNK:5"))
	var mismatch *SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "", got.Text)
}

func TestHelpMalformed(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"empty", ""},
		{"no header", "Help on module math:\n"},
		{"bad size", "SIZE:lots\n"},
		{"negative size", "SIZE:-1\n"},
		{"garbage frame", "SIZE:3\nBLOB:3\nabc\n"},
		{"bad chunk length", "SIZE:3\nCHUNK:x\nabc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHelp(strings.NewReader(tt.stream))
			assert.ErrorIs(t, err, errMalformedStream)
		})
	}
}
