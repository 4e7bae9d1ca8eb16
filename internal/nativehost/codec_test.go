package nativehost

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(body string) []byte {
	buf := make([]byte, 4, 4+len(body))
	binary.NativeEndian.PutUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, map[string]string{"type": "LIST_VIRTUAL_ENVS", "note": "héllo"}))
	require.NoError(t, WriteMessage(&buf, []int{1, 2}))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LIST_VIRTUAL_ENVS","note":"héllo"}`, string(first))

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", string(second))

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLengthPrefixIsNativeEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, "ab"))
	assert.Equal(t, frame(`"ab"`), buf.Bytes())
}

func TestReadTruncated(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{1, 0}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)

	full := frame(`{"type":"X"}`)
	_, err = ReadMessage(bytes.NewReader(full[:len(full)-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadRejectsHugeLength(t *testing.T) {
	header := make([]byte, 4)
	binary.NativeEndian.PutUint32(header, MaxInbound+1)
	_, err := ReadMessage(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, strings.Repeat("x", MaxOutbound))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Zero(t, buf.Len())
}
