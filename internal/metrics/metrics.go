package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int           // P99計算に使う直近サンプル数
	ThroughputWindow  time.Duration // スループットを数える区間の長さ
	Namespace         string        // Prometheusのメトリクス名プレフィックス
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MaxLatencySamples: 1000,
		ThroughputWindow:  10 * time.Second,
		Namespace:         "pool_server",
	}
}

// Metrics はジョブ（またはリクエスト）の実行統計を収集する
type Metrics struct {
	submitted    atomic.Uint64
	rejected     atomic.Uint64
	totalJobs    atomic.Uint64
	successJobs  atomic.Uint64
	failedJobs   atomic.Uint64
	totalLatency atomic.Uint64

	mu                sync.Mutex
	startTime         time.Time
	window            time.Duration
	windowStart       time.Time
	windowJobs        uint64
	lastRate          float64 // 直前に閉じた区間の秒間ジョブ数
	hasLastRate       bool
	latencies         []time.Duration // リングバッファ
	nextSample        int
	maxLatencySamples int

	descSubmitted *prometheus.Desc
	descRejected  *prometheus.Desc
	descCompleted *prometheus.Desc
	descFailed    *prometheus.Desc
	descAvg       *prometheus.Desc
	descP99       *prometheus.Desc
}

// New はデフォルト設定でメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = 1000
	}
	window := config.ThroughputWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	ns := config.Namespace

	now := time.Now()
	return &Metrics{
		startTime:         now,
		window:            window,
		windowStart:       now,
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,

		descSubmitted: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "submitted_total"),
			"Total number of jobs accepted onto the queue.", nil, nil),
		descRejected: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "rejected_total"),
			"Total number of jobs refused because the queue was closed.", nil, nil),
		descCompleted: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "completed_total"),
			"Total number of jobs that returned normally.", nil, nil),
		descFailed: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "failed_total"),
			"Total number of jobs that panicked.", nil, nil),
		descAvg: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "latency_average_seconds"),
			"Average job execution time.", nil, nil),
		descP99: prometheus.NewDesc(prometheus.BuildFQName(ns, "jobs", "latency_p99_seconds"),
			"P99 job execution time over the sample window.", nil, nil),
	}
}

// RecordSubmit はキューに積まれたジョブを記録する
func (m *Metrics) RecordSubmit() {
	m.submitted.Add(1)
}

// RecordRejected は受け付けられなかったジョブを記録する
func (m *Metrics) RecordRejected() {
	m.rejected.Add(1)
}

// RecordSuccess は正常終了したジョブを記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.totalJobs.Add(1)
	m.successJobs.Add(1)
	m.totalLatency.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.rotate(time.Now())
	m.windowJobs++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	} else {
		// 古いサンプルから上書きする
		m.latencies[m.nextSample] = latency
	}
	m.nextSample = (m.nextSample + 1) % m.maxLatencySamples
	m.mu.Unlock()
}

// RecordFailure は失敗したジョブを記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.totalJobs.Add(1)
	m.failedJobs.Add(1)
	m.totalLatency.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.rotate(time.Now())
	m.windowJobs++
	m.mu.Unlock()
}

// rotate は区間が終わっていれば、その秒間ジョブ数を確定して新しい区間を始める
// m.mu を保持して呼ぶこと
func (m *Metrics) rotate(now time.Time) {
	elapsed := now.Sub(m.windowStart)
	if elapsed < m.window {
		return
	}
	m.lastRate = float64(m.windowJobs) / elapsed.Seconds()
	m.hasLastRate = true
	m.windowJobs = 0
	m.windowStart = now
}

// Submitted はキューに積まれたジョブ数を返す
func (m *Metrics) Submitted() uint64 {
	return m.submitted.Load()
}

// Rejected は拒否されたジョブ数を返す
func (m *Metrics) Rejected() uint64 {
	return m.rejected.Load()
}

// TotalJobs は実行済みジョブ数を返す
func (m *Metrics) TotalJobs() uint64 {
	return m.totalJobs.Load()
}

// SuccessJobs は正常終了したジョブ数を返す
func (m *Metrics) SuccessJobs() uint64 {
	return m.successJobs.Load()
}

// FailedJobs は失敗したジョブ数を返す
func (m *Metrics) FailedJobs() uint64 {
	return m.failedJobs.Load()
}

// Throughput は直近に閉じた区間の秒間ジョブ数を返す
// 最初の区間が終わるまでは、開始からの平均を返す
func (m *Metrics) Throughput() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.rotate(now)
	if m.hasLastRate {
		return m.lastRate
	}

	elapsed := now.Sub(m.windowStart).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowJobs) / elapsed
}

// AverageLatency は平均実行時間を返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalJobs.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatency.Load() / total)
}

// P99Latency は直近サンプルのP99実行時間を返す
func (m *Metrics) P99Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate は失敗率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalJobs.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedJobs.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowJobs = 0
	m.windowStart = time.Now()
	m.lastRate = 0
	m.hasLastRate = false
	m.latencies = m.latencies[:0]
	m.nextSample = 0
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Submitted      uint64        `json:"submitted"`
	Rejected       uint64        `json:"rejected"`
	TotalJobs      uint64        `json:"total_jobs"`
	SuccessJobs    uint64        `json:"success_jobs"`
	FailedJobs     uint64        `json:"failed_jobs"`
	Throughput     float64       `json:"throughput"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	P99Latency     time.Duration `json:"p99_latency_ns"`
	ErrorRate      float64       `json:"error_rate"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Submitted:      m.Submitted(),
		Rejected:       m.Rejected(),
		TotalJobs:      m.TotalJobs(),
		SuccessJobs:    m.SuccessJobs(),
		FailedJobs:     m.FailedJobs(),
		Throughput:     m.Throughput(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		ErrorRate:      m.ErrorRate(),
		Elapsed:        time.Since(m.startTime),
	}
}

// Describe は prometheus.Collector を実装する
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.descSubmitted
	ch <- m.descRejected
	ch <- m.descCompleted
	ch <- m.descFailed
	ch <- m.descAvg
	ch <- m.descP99
}

// Collect は prometheus.Collector を実装する
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(m.descSubmitted, prometheus.CounterValue, float64(m.Submitted()))
	ch <- prometheus.MustNewConstMetric(m.descRejected, prometheus.CounterValue, float64(m.Rejected()))
	ch <- prometheus.MustNewConstMetric(m.descCompleted, prometheus.CounterValue, float64(m.SuccessJobs()))
	ch <- prometheus.MustNewConstMetric(m.descFailed, prometheus.CounterValue, float64(m.FailedJobs()))
	ch <- prometheus.MustNewConstMetric(m.descAvg, prometheus.GaugeValue, m.AverageLatency().Seconds())
	ch <- prometheus.MustNewConstMetric(m.descP99, prometheus.GaugeValue, m.P99Latency().Seconds())
}
