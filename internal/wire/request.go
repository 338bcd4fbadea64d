// Package wire reads one request off a raw connection and renders one
// response back, in the line-oriented HTTP/1.x text framing.
package wire

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedRequestLine means the first line did not carry both a method
// and a path. The connection gets no response.
var ErrMalformedRequestLine = errors.New("malformed request line")

// DefaultBufferSize is the size of the single first read.
const DefaultBufferSize = 4096

// Request is the part of an inbound message the router needs. HasBody
// distinguishes an absent body from an empty one.
type Request struct {
	Method  string
	Path    string
	Body    string
	HasBody bool
}

// ReadRequest performs one read of up to bufSize bytes from r and parses
// it. If that read already holds the whole header block and a
// Content-Length announces more body than arrived, reading continues until
// the declared length, maxBytes in total, or EOF. maxBytes <= 0 disables
// the continuation, leaving larger requests truncated at bufSize.
func ReadRequest(r io.Reader, bufSize, maxBytes int) (Request, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return Request{}, err
		}
		return Request{}, ErrMalformedRequestLine
	}
	data := buf[:n]

	if maxBytes > 0 {
		if total, ok := declaredLength(data); ok && total > len(data) {
			data = readUpTo(r, data, min(total, maxBytes))
		}
	}
	return ParseRequest(data)
}

// ParseRequest extracts method, path and body from one raw message.
// Invalid UTF-8 is replaced rather than rejected.
func ParseRequest(buf []byte) (Request, error) {
	text := strings.ToValidUTF8(string(buf), "\uFFFD")

	line, _, _ := strings.Cut(text, "\n")
	parts := strings.Fields(strings.TrimSuffix(line, "\r"))
	if len(parts) < 2 {
		return Request{}, ErrMalformedRequestLine
	}

	req := Request{Method: parts[0], Path: parts[1]}
	if _, end, ok := headerEnd(text); ok {
		req.Body = text[end:]
		req.HasBody = true
	}
	return req, nil
}

// headerEnd locates the first blank line, CRLF or bare LF framed, ending
// the header block and returns its start and the offset of the first body
// byte.
func headerEnd(text string) (int, int, bool) {
	crlf := strings.Index(text, "\r\n\r\n")
	lf := strings.Index(text, "\n\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, crlf + 4, true
	case lf >= 0:
		return lf, lf + 2, true
	}
	return 0, 0, false
}

// declaredLength returns the total message length implied by the
// Content-Length header, if the header block is complete and carries one.
func declaredLength(data []byte) (int, bool) {
	text := string(data)
	start, end, ok := headerEnd(text)
	if !ok {
		return 0, false
	}
	for _, line := range strings.Split(text[:start], "\n") {
		name, value, found := strings.Cut(strings.TrimSuffix(line, "\r"), ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return end + n, true
	}
	return 0, false
}

func readUpTo(r io.Reader, data []byte, total int) []byte {
	if total <= len(data) {
		return data
	}
	out := make([]byte, total)
	copy(out, data)
	m, _ := io.ReadFull(r, out[len(data):])
	return out[:len(data)+m]
}
