package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/granola/internal/domain"
	"github.com/efreitasn/granola/internal/handler"
	"github.com/efreitasn/granola/internal/service"
	"github.com/efreitasn/granola/internal/store"
	"github.com/efreitasn/granola/internal/wire"
)

const buyUsdForSatBody = `{"kind":"buy","make_amount":10.0,"make_denomination":"usd","take_amount":0.001,"take_denomination":"sat"}`

// startServer serves a fresh in-memory order board on a loopback port and
// returns its address.
func startServer(t *testing.T, opts Options) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewOrderService(store.NewGuarded(store.NewMemoryStore()), nil, logger)
	srv := New(handler.NewRouter(svc, logger), opts, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Serve returned %v", err)
		}
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		if err := srv.Wait(waitCtx); err != nil {
			t.Errorf("Wait: %v", err)
		}
	})
	return ln.Addr().String()
}

// roundTrip writes raw in a single write and reads until the server
// closes the connection.
func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(resp)
}

// splitResponse returns the status line and body of a raw response.
func splitResponse(t *testing.T, resp string) (string, string) {
	t.Helper()
	head, body, ok := strings.Cut(resp, "\r\n\r\n")
	if !ok {
		t.Fatalf("response has no header terminator: %q", resp)
	}
	statusLine, _, _ := strings.Cut(head, "\r\n")
	return statusLine, body
}

func request(method, path, body string) string {
	if body == "" {
		return fmt.Sprintf("%s %s HTTP/1.1\r\nHost: localhost\r\n\r\n", method, path)
	}
	return fmt.Sprintf("%s %s HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		method, path, len(body), body)
}

func TestServer_ListEmpty(t *testing.T) {
	addr := startServer(t, Options{})

	status, body := splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q, want 200", status)
	}
	if body != "[]" {
		t.Fatalf("body = %q, want %q", body, "[]")
	}
}

func TestServer_CreateListDelete(t *testing.T) {
	addr := startServer(t, Options{})

	resp := roundTrip(t, addr, request("POST", "/order", buyUsdForSatBody))
	status, body := splitResponse(t, resp)
	if status != "HTTP/1.1 201 Created" {
		t.Fatalf("status = %q, want 201: %s", status, resp)
	}
	if !strings.Contains(resp, fmt.Sprintf("Content-Length: %d\r\n", len(body))) {
		t.Errorf("Content-Length does not match body length: %q", resp)
	}
	var created domain.Order
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.ID) != 64 || created.Kind != domain.KindBuy {
		t.Fatalf("created = %+v", created)
	}

	_, body = splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	var orders []domain.Order
	if err := json.Unmarshal([]byte(body), &orders); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(orders) != 1 || orders[0] != created {
		t.Fatalf("list = %+v, want [%+v]", orders, created)
	}

	status, body = splitResponse(t, roundTrip(t, addr, request("DELETE", "/order/"+created.ID, "")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("delete status = %q", status)
	}
	if want := `{"message": "Order ` + created.ID + ` deleted successfully"}`; body != want {
		t.Fatalf("delete body = %q, want %q", body, want)
	}

	status, body = splitResponse(t, roundTrip(t, addr, request("DELETE", "/order/"+created.ID, "")))
	if status != "HTTP/1.1 404 Not Found" {
		t.Fatalf("second delete status = %q", status)
	}
	if want := `{"error": "Order ` + created.ID + ` not found"}`; body != want {
		t.Fatalf("second delete body = %q, want %q", body, want)
	}
}

func TestServer_DeleteUnknown(t *testing.T) {
	addr := startServer(t, Options{})

	status, body := splitResponse(t, roundTrip(t, addr, request("DELETE", "/order/deadbeef", "")))
	if status != "HTTP/1.1 404 Not Found" {
		t.Fatalf("status = %q, want 404", status)
	}
	if body != `{"error": "Order deadbeef not found"}` {
		t.Fatalf("body = %q", body)
	}
}

func TestServer_MissingAndInvalidBody(t *testing.T) {
	addr := startServer(t, Options{})

	// No blank line at all: the body is absent.
	status, body := splitResponse(t, roundTrip(t, addr, "POST /order HTTP/1.1\r\nHost: localhost\r\n\r"))
	if status != "HTTP/1.1 400 Bad Request" {
		t.Fatalf("status = %q, want 400", status)
	}
	if body != `{"error": "Missing request body"}` {
		t.Fatalf("body = %q", body)
	}

	status, body = splitResponse(t, roundTrip(t, addr, request("POST", "/order", `{"kind":"buy"}`)))
	if status != "HTTP/1.1 400 Bad Request" {
		t.Fatalf("status = %q, want 400", status)
	}
	if !strings.Contains(body, "make_amount") {
		t.Fatalf("body = %q, should name the missing field", body)
	}
}

func TestServer_Preflight(t *testing.T) {
	addr := startServer(t, Options{})

	resp := roundTrip(t, addr, "OPTIONS * HTTP/1.1\r\nOrigin: http://localhost:3000\r\n\r\n")
	want := "HTTP/1.1 204 No Content\r\n" +
		"Access-Control-Allow-Origin: *\r\n" +
		"Access-Control-Allow-Methods: GET, POST, DELETE, OPTIONS\r\n" +
		"Access-Control-Allow-Headers: Content-Type, Origin, Accept\r\n" +
		"Access-Control-Max-Age: 86400\r\n" +
		"Content-Length: 0\r\n\r\n"
	if resp != want {
		t.Fatalf("preflight =\n%q\nwant\n%q", resp, want)
	}
}

func TestServer_UnknownEndpoint(t *testing.T) {
	addr := startServer(t, Options{})

	for _, raw := range []string{
		request("GET", "/nope", ""),
		request("GET", "/orders?limit=1", ""),
		request("BREW", "/orders", ""),
	} {
		status, body := splitResponse(t, roundTrip(t, addr, raw))
		if status != "HTTP/1.1 404 Not Found" {
			t.Errorf("%q: status = %q, want 404", raw, status)
		}
		if body != `{"error": "Endpoint not found"}` {
			t.Errorf("%q: body = %q", raw, body)
		}
	}
}

func TestServer_MalformedRequestLineGetsNoResponse(t *testing.T) {
	addr := startServer(t, Options{})

	for _, raw := range []string{"GET\r\n\r\n", "\r\n\r\n", "   \r\n"} {
		if resp := roundTrip(t, addr, raw); resp != "" {
			t.Errorf("%q: expected no response, got %q", raw, resp)
		}
	}

	// The supervisor keeps serving afterwards.
	status, _ := splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status after malformed requests = %q", status)
	}
}

func TestServer_ClientClosesWithoutSending(t *testing.T) {
	addr := startServer(t, Options{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()

	status, _ := splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
}

func TestServer_LargeBody(t *testing.T) {
	padding := strings.Repeat("x", 6000)
	body := `{"kind":"sell","make_amount":1,"make_denomination":"eur","take_amount":2,"take_denomination":"chf","note":"` + padding + `"}`

	t.Run("completed when a max is configured", func(t *testing.T) {
		addr := startServer(t, Options{MaxRequestBytes: 1 << 20})
		status, resp := splitResponse(t, roundTrip(t, addr, request("POST", "/order", body)))
		if status != "HTTP/1.1 201 Created" {
			t.Fatalf("status = %q, want 201: %s", status, resp)
		}
	})

	t.Run("single read otherwise", func(t *testing.T) {
		addr := startServer(t, Options{})
		// Only the first buffer's worth is sent; the server must answer
		// without waiting for the rest of the declared body.
		raw := request("POST", "/order", body)[:wire.DefaultBufferSize]
		status, _ := splitResponse(t, roundTrip(t, addr, raw))
		if status != "HTTP/1.1 400 Bad Request" {
			t.Fatalf("status = %q, want 400", status)
		}
	})
}

func TestServer_ConcurrentCreates(t *testing.T) {
	addr := startServer(t, Options{})

	const n = 40
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Write([]byte(request("POST", "/order", buyUsdForSatBody))); err != nil {
				t.Errorf("write: %v", err)
				return
			}
			resp, err := io.ReadAll(conn)
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			_, body, _ := strings.Cut(string(resp), "\r\n\r\n")
			var o domain.Order
			if err := json.Unmarshal([]byte(body), &o); err != nil {
				t.Errorf("decode %q: %v", body, err)
				return
			}
			ids[i] = o.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("ids not pairwise distinct: %v", ids)
		}
		seen[id] = true
	}

	_, body := splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	var orders []domain.Order
	if err := json.Unmarshal([]byte(body), &orders); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(orders) != n {
		t.Fatalf("list has %d orders, want %d", len(orders), n)
	}
}

func TestServer_ReadTimeoutClosesIdleConnection(t *testing.T) {
	addr := startServer(t, Options{ReadTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("expected the server to close the idle connection, got %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected no response, got %q", resp)
	}
}

func TestServer_MaxConnectionsQueuesExtraClients(t *testing.T) {
	addr := startServer(t, Options{MaxConnections: 1, ReadTimeout: 100 * time.Millisecond})

	idle, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer idle.Close()

	// Served once the idle worker times out and frees its slot.
	status, _ := splitResponse(t, roundTrip(t, addr, request("GET", "/orders", "")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
}

func TestServer_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewOrderService(store.NewMemoryStore(), nil, logger)
	srv := New(handler.NewRouter(svc, logger), Options{}, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second); err == nil {
		t.Fatal("expected dial to fail after shutdown")
	}
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	if d != 5*time.Millisecond {
		t.Fatalf("first backoff = %v, want 5ms", d)
	}
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	if d != time.Second {
		t.Fatalf("backoff cap = %v, want 1s", d)
	}
}

// ctxStore fails any call whose context is already done.
type ctxStore struct {
	store.Store
}

func (s ctxStore) List(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return s.Store.List(ctx)
}

// acceptSignal reports each accepted connection on accepted.
type acceptSignal struct {
	net.Listener
	accepted chan struct{}
}

func (l *acceptSignal) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.accepted <- struct{}{}
	}
	return conn, err
}

func TestServer_InFlightRequestSurvivesCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewOrderService(store.NewGuarded(ctxStore{store.NewMemoryStore()}), nil, logger)
	srv := New(handler.NewRouter(svc, logger), Options{}, logger)

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln := &acceptSignal{Listener: inner, accepted: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	conn, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	select {
	case <-ln.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not accepted")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Serve returned %v", err)
	}

	if _, err := conn.Write([]byte(request("GET", "/orders", ""))); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	status, body := splitResponse(t, string(resp))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q, want 200: %s", status, body)
	}
	if body != "[]" {
		t.Fatalf("body = %q, want %q", body, "[]")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := srv.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
