package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pool-server/internal/logger"
	"pool-server/internal/metrics"
	"pool-server/internal/worker"
)

const scope = "client"

// Config はClientの設定
type Config struct {
	NumWorkers    int            // ワーカー数（0でCPU数）
	RequestLine   string         // 送信するリクエスト行
	RequestsLimit uint64         // リクエスト上限（0で無制限）
	Timeout       time.Duration  // 1リクエストの期限
	Logger        *logger.Logger // 内部プールのロガー（nil で logger.Default）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		NumWorkers:    0, // CPU数
		RequestLine:   "GET / HTTP/1.1",
		RequestsLimit: 0,
		Timeout:       5 * time.Second,
	}
}

// Client はpool-serverに対する負荷生成器
type Client struct {
	addr    string
	config  Config
	pool    *worker.Pool
	metrics *metrics.Metrics
	slots   chan struct{}
	issued  atomic.Uint64

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New は新しいClientを作成する
func New(addr string, config Config) *Client {
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.RequestLine == "" {
		config.RequestLine = DefaultConfig().RequestLine
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		addr:    addr,
		config:  config,
		metrics: metrics.New(),
		// キューは上限なしなので、投入中のリクエスト数をここで抑える
		slots: make(chan struct{}, config.NumWorkers*2),
	}
}

// Start は負荷生成を開始する
func (c *Client) Start(ctx context.Context) {
	if c.running.Swap(true) {
		return // Already running
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.pool = worker.NewWithConfig(worker.PoolConfig{
		Size:    c.config.NumWorkers,
		Logger:  c.config.Logger,
		Metrics: metrics.New(),
	})

	logger.Info(scope, "Client started (workers: %d, target: %s)", c.config.NumWorkers, c.addr)

	c.wg.Add(1)
	go c.generateRequests()
}

// generateRequests はリクエストを生成し続ける
func (c *Client) generateRequests() {
	defer c.wg.Done()

	for {
		if c.config.RequestsLimit > 0 && c.issued.Load() >= c.config.RequestsLimit {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case c.slots <- struct{}{}:
		}

		c.issued.Add(1)
		if err := c.pool.TrySubmit(c.createJob()); err != nil {
			<-c.slots
			return
		}
	}
}

// createJob は1リクエスト分のジョブを作成する
func (c *Client) createJob() worker.Job {
	return func() {
		defer func() { <-c.slots }()

		start := time.Now()
		status, err := c.do()
		latency := time.Since(start)

		if err != nil || status >= 500 {
			c.metrics.RecordFailure(latency)
			logger.Debug(scope, "request failed (status %d): %v", status, err)
			return
		}
		c.metrics.RecordSuccess(latency)
	}
}

// do はリクエストを1つ送り、ステータスコードを返す
func (c *Client) do() (int, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.config.Timeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	if _, err := fmt.Fprintf(conn, "%s\r\n\r\n", c.config.RequestLine); err != nil {
		return 0, err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("failed to read status line: %w", err)
	}
	return ParseStatus(line)
}

// ParseStatus は "HTTP/1.1 200 OK" 形式のステータス行からコードを取り出す
func ParseStatus(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("malformed status line: %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code: %q", fields[1])
	}
	return code, nil
}

// Stop は負荷生成を停止し、投入済みのリクエストの完了を待つ
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return // Not running
	}

	c.cancel()
	c.wg.Wait()
	if err := c.pool.Shutdown(); err != nil {
		logger.Error(scope, "Client pool shutdown: %v", err)
	}

	logger.Info(scope, "Client stopped")
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) *metrics.Snapshot {
	c.Start(ctx)

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}

// RunRequests は指定数のリクエストを実行する
func (c *Client) RunRequests(ctx context.Context, count uint64) *metrics.Snapshot {
	c.config.RequestsLimit = count
	c.Start(ctx)
	c.wg.Wait()
	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}
