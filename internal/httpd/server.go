package httpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pool-server/internal/logger"
	"pool-server/internal/worker"

	"golang.org/x/net/netutil"
)

const scope = "httpd"

const (
	statusInternalError = "HTTP/1.1 500 INTERNAL SERVER ERROR"
	statusUnavailable   = "HTTP/1.1 503 SERVICE UNAVAILABLE"
)

// Route はリクエスト行とレスポンスの対応
type Route struct {
	RequestLine string
	Status      string
	File        string
}

// Config はフロントエンドの設定
type Config struct {
	Addr        string
	MaxConns    int            // 同時接続数の上限（0で無制限）
	ReadTimeout time.Duration  // リクエスト行を読むまでの期限（0で無制限）
	StaticDir   string
	Routes      []Route
	NotFound    Route
	Logger      *logger.Logger // nil なら logger.Default
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:7878",
		MaxConns:    64,
		ReadTimeout: 5 * time.Second,
		StaticDir:   "static",
		Routes: []Route{
			{RequestLine: "GET / HTTP/1.1", Status: "HTTP/1.1 200 OK", File: "index.html"},
		},
		NotFound: Route{Status: "HTTP/1.1 404 NOT FOUND", File: "404.html"},
	}
}

// Submitter はジョブの投入先
type Submitter interface {
	TrySubmit(job worker.Job) error
}

// Server はTCP接続を受け付け、接続ごとに1つのジョブを投入する
type Server struct {
	config Config
	pool   Submitter
	routes map[string]Route
	log    *logger.Logger

	mu       sync.Mutex
	listener net.Listener

	accepted atomic.Uint64
	served   atomic.Uint64
	refused  atomic.Uint64
}

// New は新しいServerを作成する
func New(pool Submitter, config Config) *Server {
	routes := make(map[string]Route, len(config.Routes))
	for _, r := range config.Routes {
		routes[r.RequestLine] = r
	}
	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	return &Server{
		config: config,
		pool:   pool,
		routes: routes,
		log:    log,
	}
}

// Listen はアドレスをバインドする
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info(scope, "Listening on %s (max conns: %d)", ln.Addr(), s.config.MaxConns)
	return nil
}

// Addr はバインド済みのアドレスを返す（Listen 前は nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve は ctx が終わるまで接続を受け付ける
// Listen されていなければ先に Listen する
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info(scope, "Accept loop stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn(scope, "Accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0
		s.accepted.Add(1)

		if err := s.pool.TrySubmit(func() { s.handle(conn) }); err != nil {
			s.refused.Add(1)
			s.log.Warn(scope, "Refusing %s: %v", conn.RemoteAddr(), err)
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write(FormatResponse(statusUnavailable, nil))
			_ = conn.Close()
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Resolve はリクエスト行に対応するルートを返す
func (s *Server) Resolve(requestLine string) Route {
	if r, ok := s.routes[requestLine]; ok {
		return r
	}
	return s.config.NotFound
}

// handle はプールのワーカー上で1接続を処理する
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err != nil && line == "" {
		s.log.Debug(scope, "No request line from %s: %v", conn.RemoteAddr(), err)
		return
	}

	route := s.Resolve(line)
	status := route.Status
	body, err := os.ReadFile(filepath.Join(s.config.StaticDir, route.File))
	if err != nil {
		s.log.Error(scope, "Failed to read %s: %v", route.File, err)
		status, body = statusInternalError, nil
	}

	if _, err := conn.Write(FormatResponse(status, body)); err != nil {
		s.log.Warn(scope, "Failed to write response to %s: %v", conn.RemoteAddr(), err)
		return
	}
	s.served.Add(1)
	s.log.Debug(scope, "%q -> %s", line, status)
}

// FormatResponse はステータス行と本文からレスポンスを組み立てる
func FormatResponse(status string, body []byte) []byte {
	head := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	return append([]byte(head), body...)
}

// Stats は接続の統計
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Served   uint64 `json:"served"`
	Refused  uint64 `json:"refused"`
}

// Stats は現在の統計を返す
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Served:   s.served.Load(),
		Refused:  s.refused.Load(),
	}
}
