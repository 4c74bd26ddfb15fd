package httpd

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pool-server/internal/logger"
	"pool-server/internal/worker"
)

func setupStatic(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html": "<h1>Hello!</h1>",
		"404.html":   "<h1>Oops!</h1>",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func startServer(t *testing.T, pool Submitter, config Config) (*Server, func()) {
	t.Helper()
	config.Addr = "127.0.0.1:0"

	s := New(pool, config)
	if err := s.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	return s, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve returned error: %v", err)
			}
		case <-time.After(time.Second):
			t.Error("serve did not stop")
		}
	}
}

func exchange(addr net.Addr, request string) (string, error) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if request != "" {
		if _, err := conn.Write([]byte(request)); err != nil {
			return "", err
		}
	}
	resp, err := io.ReadAll(conn)
	return string(resp), err
}

func roundTrip(t *testing.T, addr net.Addr, request string) string {
	t.Helper()
	resp, err := exchange(addr, request)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	return resp
}

func newPool(size int) *worker.Pool {
	return worker.NewWithConfig(worker.PoolConfig{
		Size:   size,
		Logger: logger.New(io.Discard, logger.LevelError),
	})
}

func TestFormatResponse(t *testing.T) {
	got := string(FormatResponse("HTTP/1.1 200 OK", []byte("hello")))
	want := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	empty := string(FormatResponse(statusInternalError, nil))
	if empty != statusInternalError+"\r\nContent-Length: 0\r\n\r\n" {
		t.Errorf("unexpected empty response: %q", empty)
	}
}

func TestResolve(t *testing.T) {
	s := New(nil, DefaultConfig())

	tests := []struct {
		line string
		file string
	}{
		{"GET / HTTP/1.1", "index.html"},
		{"GET /sleep HTTP/1.1", "404.html"},
		{"", "404.html"},
		{"get / http/1.1", "404.html"},
	}

	for _, tt := range tests {
		if got := s.Resolve(tt.line).File; got != tt.file {
			t.Errorf("Resolve(%q) = %s, want %s", tt.line, got, tt.file)
		}
	}
}

func TestServeIndex(t *testing.T) {
	pool := newPool(2)
	defer pool.Shutdown()

	config := DefaultConfig()
	config.StaticDir = setupStatic(t)
	s, stop := startServer(t, pool, config)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	want := "HTTP/1.1 200 OK\r\nContent-Length: 15\r\n\r\n<h1>Hello!</h1>"
	if resp != want {
		t.Errorf("got %q, want %q", resp, want)
	}
}

func TestServeNotFound(t *testing.T) {
	pool := newPool(2)
	defer pool.Shutdown()

	config := DefaultConfig()
	config.StaticDir = setupStatic(t)
	s, stop := startServer(t, pool, config)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET /missing HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 404 NOT FOUND\r\nContent-Length: 14\r\n\r\n<h1>Oops!</h1>"
	if resp != want {
		t.Errorf("got %q, want %q", resp, want)
	}
}

func TestServeMissingFile(t *testing.T) {
	pool := newPool(1)
	defer pool.Shutdown()

	config := DefaultConfig()
	config.StaticDir = t.TempDir()
	s, stop := startServer(t, pool, config)
	defer stop()

	resp := roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\n\r\n")
	want := statusInternalError + "\r\nContent-Length: 0\r\n\r\n"
	if resp != want {
		t.Errorf("got %q, want %q", resp, want)
	}
}

func TestServeManyConnections(t *testing.T) {
	pool := newPool(4)

	config := DefaultConfig()
	config.StaticDir = setupStatic(t)
	config.MaxConns = 4
	s, stop := startServer(t, pool, config)

	const numConns = 20
	type result struct {
		resp string
		err  error
	}
	results := make(chan result, numConns)
	for iter := 0; iter < numConns; iter++ {
		go func() {
			resp, err := exchange(s.Addr(), "GET / HTTP/1.1\r\n\r\n")
			results <- result{resp, err}
		}()
	}

	for iter := 0; iter < numConns; iter++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Errorf("round trip: %v", r.err)
				continue
			}
			if resp := r.resp; resp != "HTTP/1.1 200 OK\r\nContent-Length: 15\r\n\r\n<h1>Hello!</h1>" {
				t.Errorf("unexpected response: %q", resp)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for responses")
		}
	}

	stop()
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	stats := s.Stats()
	if stats.Accepted != numConns || stats.Served != numConns {
		t.Errorf("expected %d accepted and served, got %+v", numConns, stats)
	}
}

func TestServeRefusesAfterPoolShutdown(t *testing.T) {
	pool := newPool(1)
	_ = pool.Shutdown()

	config := DefaultConfig()
	config.StaticDir = setupStatic(t)
	s, stop := startServer(t, pool, config)
	defer stop()

	// 拒否時はリクエストを読まずに閉じるので、送らずに読む
	resp := roundTrip(t, s.Addr(), "")
	want := statusUnavailable + "\r\nContent-Length: 0\r\n\r\n"
	if resp != want {
		t.Errorf("got %q, want %q", resp, want)
	}
	if s.Stats().Refused != 1 {
		t.Errorf("expected 1 refused, got %d", s.Stats().Refused)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	pool := newPool(1)
	defer pool.Shutdown()

	config := DefaultConfig()
	config.StaticDir = setupStatic(t)
	s, stop := startServer(t, pool, config)
	addr := s.Addr().String()
	stop()

	if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Error("expected listener to be closed")
	}
}

func TestServerUsesConfiguredLogger(t *testing.T) {
	pool := newPool(1)

	var buf bytes.Buffer
	config := DefaultConfig()
	config.StaticDir = t.TempDir()
	config.Logger = logger.New(&buf, logger.LevelInfo)
	s, stop := startServer(t, pool, config)

	roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\n\r\n")
	stop()
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"Listening on", "Failed to read index.html"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log output, got %q", want, output)
		}
	}
}
