package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/efreitasn/granola/internal/wire"
)

// dispatch runs req through the handler and returns the recorded status
// and body.
func (s *Server) dispatch(ctx context.Context, req wire.Request) (int, []byte) {
	rec := newRecorder()
	s.handler.ServeHTTP(rec, toHTTPRequest(ctx, req))
	return rec.status, rec.body.Bytes()
}

// toHTTPRequest builds the request the router sees. The path is used
// verbatim, without unescaping or query splitting, so routing matches on
// the exact bytes of the request line.
func toHTTPRequest(ctx context.Context, req wire.Request) *http.Request {
	body := io.ReadCloser(http.NoBody)
	if req.HasBody {
		body = io.NopCloser(strings.NewReader(req.Body))
	}
	r := &http.Request{
		Method:        req.Method,
		URL:           &url.URL{Path: req.Path},
		RequestURI:    req.Path,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          body,
		ContentLength: int64(len(req.Body)),
		Close:         true,
	}
	return r.WithContext(ctx)
}

// recorder is a minimal http.ResponseWriter that buffers the response for
// the wire encoder. Headers set by handlers are ignored; the encoder owns
// the header block.
type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}
