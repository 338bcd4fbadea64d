// Package server accepts raw TCP connections and serves exactly one
// request/response exchange on each, in its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/efreitasn/granola/internal/handler"
	"github.com/efreitasn/granola/internal/wire"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Options tunes per-connection behaviour. The zero value reads 4096 bytes
// once, never times out and admits every connection.
type Options struct {
	ReadBufferSize  int
	MaxRequestBytes int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxConnections  int64
}

// Server is the connection supervisor. Workers share nothing but the
// handler, which carries the guarded store.
type Server struct {
	handler http.Handler
	opts    Options
	logger  *slog.Logger
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// New creates a Server dispatching requests to h.
func New(h http.Handler, opts Options, logger *slog.Logger) *Server {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = wire.DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{handler: h, opts: opts, logger: logger}
	if opts.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxConnections)
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and returns nil. Accept errors are logged and the loop continues.
// In-flight workers keep running with a context that is not cancelled
// along with ctx; use Wait to drain them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.sem != nil {
				s.sem.Release(1)
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.logger.Error("error accepting connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.handleConn(ctx, conn)
		}()
	}
}

// Wait blocks until every in-flight connection has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConn owns the whole read, parse, route, write lifecycle of conn.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := s.logger.With(slog.String("conn_id", connID), slog.String("remote", conn.RemoteAddr().String()))

	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("connection worker panic",
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if s.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}
	req, err := wire.ReadRequest(conn, s.opts.ReadBufferSize, s.opts.MaxRequestBytes)
	if errors.Is(err, wire.ErrMalformedRequestLine) {
		logger.Debug("dropping connection without a request line")
		return
	}
	if err != nil {
		logger.Error("error reading from connection", slog.String("error", err.Error()))
		return
	}

	// Requests already read are served to completion even after ctx is
	// cancelled; ctx only stops the accept loop.
	reqCtx := handler.WithConnID(context.WithoutCancel(ctx), connID)
	status, body := s.dispatch(reqCtx, req)

	if s.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if _, err := conn.Write(wire.EncodeResponse(status, body)); err != nil {
		logger.Error("error sending response", slog.String("error", err.Error()))
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = time.Second
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
