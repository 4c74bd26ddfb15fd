package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pool-server/internal/events"
	"pool-server/internal/httpd"
	"pool-server/internal/logger"
	"pool-server/internal/metrics"
	"pool-server/internal/recovery"
	"pool-server/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

const scope = "admin"

// Pool は管理APIから見えるプールの操作
type Pool interface {
	Size() int
	Alive() int
	QueueLen() int
	Closed() bool
	Workers() []worker.WorkerInfo
	Respawn(id int) error
	Metrics() *metrics.Metrics
}

// Server は管理用のHTTPサーバー
type Server struct {
	addr       string
	pool       Pool
	bus        *events.Bus
	frontend   *httpd.Server
	supervisor *recovery.Manager
	registry   *prometheus.Registry

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しい管理サーバーを作成する
func NewServer(addr string, pool Pool, bus *events.Bus) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		pool.Metrics(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		addr:      addr,
		pool:      pool,
		bus:       bus,
		registry:  registry,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetFrontend は接続統計の取得元を設定する
func (s *Server) SetFrontend(f *httpd.Server) {
	s.frontend = f
}

// SetSupervisor は再生成統計の取得元を設定する
func (s *Server) SetSupervisor(m *recovery.Manager) {
	s.supervisor = m
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/workers", s.handleWorkers)
	r.Post("/api/workers/{id}/respawn", s.handleRespawn)
	r.Get("/api/metrics", s.handleMetrics)
	r.Post("/api/metrics/reset", s.handleMetricsReset)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return r
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベント配信
	go s.broadcastLoop(ctx)

	logger.Info(scope, "Admin server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug(scope, "%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Accepting   bool            `json:"accepting"`
	Size        int             `json:"size"`
	Alive       int             `json:"alive"`
	Queued      int             `json:"queued"`
	Dropped     uint64          `json:"dropped_events"`
	Connections *httpd.Stats    `json:"connections,omitempty"`
	Supervisor  *recovery.Stats `json:"supervisor,omitempty"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Accepting: !s.pool.Closed(),
		Size:      s.pool.Size(),
		Alive:     s.pool.Alive(),
		Queued:    s.pool.QueueLen(),
	}
	if s.bus != nil {
		resp.Dropped = s.bus.Dropped()
	}
	if s.frontend != nil {
		stats := s.frontend.Stats()
		resp.Connections = &stats
	}
	if s.supervisor != nil {
		stats := s.supervisor.Stats()
		resp.Supervisor = &stats
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pool.Workers())
}

func (s *Server) handleRespawn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "worker id must be an integer")
		return
	}

	err = s.pool.Respawn(id)
	switch {
	case errors.Is(err, worker.ErrUnknownWorker):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, worker.ErrWorkerAlive), errors.Is(err, worker.ErrPoolClosed):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "Something went wrong")
	default:
		logger.Info(scope, "Worker %d respawned by admin request", id)
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "respawned", "id": id})
	}
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	Submitted    uint64  `json:"submitted"`
	Rejected     uint64  `json:"rejected"`
	Completed    uint64  `json:"completed"`
	Failed       uint64  `json:"failed"`
	Throughput   float64 `json:"throughput"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Metrics().Snapshot()
	s.writeJSON(w, http.StatusOK, MetricsResponse{
		Submitted:    snap.Submitted,
		Rejected:     snap.Rejected,
		Completed:    snap.SuccessJobs,
		Failed:       snap.FailedJobs,
		Throughput:   snap.Throughput,
		AvgLatencyMs: float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs: float64(snap.P99Latency) / float64(time.Millisecond),
		ErrorRate:    snap.ErrorRate,
	})
}

// handleMetricsReset はサンプル区間と再生成統計をリセットする。累計カウンタは残す
func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.pool.Metrics().Reset()
	if s.supervisor != nil {
		s.supervisor.ResetStats()
	}
	logger.Info(scope, "Metrics window reset by admin request")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// クライアントが切断するまで保持
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中のwebsocketクライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はプールのイベントと1秒ごとのステータスを配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	var eventCh <-chan events.Event
	if s.bus != nil {
		eventCh = s.bus.Subscribe()
		defer s.bus.Unsubscribe(eventCh)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": e,
			})
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(scope, "Failed to encode JSON: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error_msg": msg})
}
