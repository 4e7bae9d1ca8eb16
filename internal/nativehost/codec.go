// Package nativehost speaks the browser native messaging protocol on a pair
// of streams and answers explorer requests from an extension.
package nativehost

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxOutbound is the largest message the browser accepts from a host.
	MaxOutbound = 1 << 20
	// MaxInbound bounds what we are willing to buffer from the browser.
	MaxInbound = 64 << 20
)

var ErrMessageTooLarge = errors.New("native message too large")

// ReadMessage reads one length-prefixed message. It returns io.EOF when the
// stream ends cleanly between messages.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read message length: %w", err)
		}
		return nil, err
	}
	n := binary.NativeEndian.Uint32(header[:])
	if n > MaxInbound {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return body, nil
}

// WriteMessage encodes v as JSON and writes it with its length prefix.
// Nothing is written when the encoding exceeds MaxOutbound.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(body) > MaxOutbound {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(body), MaxOutbound)
	}
	buf := make([]byte, 4, 4+len(body))
	binary.NativeEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
