package bolt

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	message := []byte("RETURN 1 AS a")
	require.NoError(t, WriteMessage(&buf, message))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, message, got)
}

func TestWriteMessageSplitsLargeMessage(t *testing.T) {
	var buf bytes.Buffer
	message := bytes.Repeat([]byte{0xAB}, maxChunkSize*2+37)
	require.NoError(t, WriteMessage(&buf, message))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, message, got)
}

func TestReadMessageMultipleMessagesSequentially(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("first")))
	require.NoError(t, WriteMessage(&buf, []byte("second")))

	r := bufio.NewReader(&buf)
	first, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second)
}

func TestReadMessageTruncatedInput(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x00, 0x05, 'a', 'b'}))
	_, err := ReadMessage(r)
	assert.Error(t, err)
}

func TestReadMessageRejectsLeadingEmptyChunk(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x00, 0x00}))
	_, err := ReadMessage(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty chunk")
}
