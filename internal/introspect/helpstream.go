package introspect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Help text travels from the interpreter as a declared size followed by
// bounded chunks, so no single write or line approaches pipe or buffer
// limits:
//
//	SIZE:<total characters>\n
//	CHUNK:<n>\n<n characters>\n
//	...
//
// Sizes count Unicode code points.
const (
	sizePrefix  = "SIZE:"
	chunkPrefix = "CHUNK:"

	// DefaultChunkSize is the number of characters per chunk.
	DefaultChunkSize = 1_000_000
)

var errMalformedStream = errors.New("malformed help stream")

// HelpStream is a decoded help transfer.
type HelpStream struct {
	Text     string
	Declared int
	Chunks   int
}

// DecodeHelp reassembles a help stream. When the stream is well formed but
// the reassembled length differs from the declared size (a dropped or
// truncated chunk) it returns the partial stream together with a
// *SizeMismatchError.
func DecodeHelp(r io.Reader) (*HelpStream, error) {
	br := bufio.NewReader(r)

	header, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || header == "") {
		return nil, fmt.Errorf("%w: missing size header", errMalformedStream)
	}
	if !strings.HasPrefix(header, sizePrefix) {
		return nil, fmt.Errorf("%w: unexpected header %q", errMalformedStream, truncate(header, 80))
	}
	declared, err := strconv.Atoi(strings.TrimSpace(header[len(sizePrefix):]))
	if err != nil || declared < 0 {
		return nil, fmt.Errorf("%w: bad size header %q", errMalformedStream, truncate(header, 80))
	}

	stream := &HelpStream{Declared: declared}
	var b strings.Builder
	b.Grow(declared)
	got := 0

chunks:
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			// A header without its newline means the stream was cut off.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read help stream: %w", err)
		}
		if !strings.HasPrefix(line, chunkPrefix) {
			return nil, fmt.Errorf("%w: unexpected frame %q", errMalformedStream, truncate(line, 80))
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[len(chunkPrefix):]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad chunk header %q", errMalformedStream, truncate(line, 80))
		}

		for range n {
			r, _, err := br.ReadRune()
			if err != nil {
				break chunks
			}
			b.WriteRune(r)
			got++
		}
		stream.Chunks++

		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read help stream: %w", err)
		}
		if c != '\n' {
			return nil, fmt.Errorf("%w: chunk %d overruns its declared length", errMalformedStream, stream.Chunks)
		}
	}

	stream.Text = b.String()
	if got != declared {
		return stream, &SizeMismatchError{Declared: declared, Got: got}
	}
	return stream, nil
}

// EncodeHelp writes text in the chunked framing DecodeHelp reads.
func EncodeHelp(w io.Writer, text string, chunkSize int) error {
	for _, frame := range helpFrames(text, chunkSize) {
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
	}
	return nil
}

// helpFrames returns the size header followed by one frame per chunk.
func helpFrames(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := utf8.RuneCountInString(text)
	frames := []string{fmt.Sprintf("%s%d\n", sizePrefix, total)}

	rest := text
	for rest != "" {
		end, count := 0, 0
		for end < len(rest) && count < chunkSize {
			_, size := utf8.DecodeRuneInString(rest[end:])
			end += size
			count++
		}
		frames = append(frames, fmt.Sprintf("%s%d\n%s\n", chunkPrefix, count, rest[:end]))
		rest = rest[end:]
	}
	return frames
}

func truncate(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
