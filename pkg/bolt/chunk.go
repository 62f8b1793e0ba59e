package bolt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// maxChunkSize is the largest payload a single chunk may carry. The two
// header bytes are not counted against it, and a chunk of exactly this size
// is never mistaken for the zero-length boundary chunk.
const maxChunkSize = 65534

// WriteMessage splits message into chunks of at most maxChunkSize bytes,
// each prefixed with a big-endian uint16 length, and terminates the message
// with a zero-length boundary chunk.
func WriteMessage(w io.Writer, message []byte) error {
	var header [2]byte
	for len(message) > 0 {
		n := len(message)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		binary.BigEndian.PutUint16(header[:], uint16(n))
		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("bolt: writing chunk header: %w", err)
		}
		if _, err := w.Write(message[:n]); err != nil {
			return fmt.Errorf("bolt: writing chunk body: %w", err)
		}
		message = message[n:]
	}
	binary.BigEndian.PutUint16(header[:], 0)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("bolt: writing message boundary: %w", err)
	}
	return nil
}

// ReadMessage reassembles one full message from r by reading chunks until
// the zero-length boundary chunk is seen.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	var message []byte
	var header [2]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, fmt.Errorf("bolt: reading chunk header: %w", err)
		}
		n := binary.BigEndian.Uint16(header[:])
		if n == 0 {
			if message == nil {
				return nil, graphbolterr.NewProtocolError("empty chunk")
			}
			return message, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("bolt: reading chunk body: %w", err)
		}
		message = append(message, chunk...)
	}
}
