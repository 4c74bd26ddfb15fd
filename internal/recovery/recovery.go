package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pool-server/internal/events"
	"pool-server/internal/logger"
	"pool-server/internal/worker"
)

const scope = "supervisor"

// Config はSupervisorの設定
type Config struct {
	HealthCheckInterval time.Duration  // ヘルスチェック間隔
	RecoveryDelay       time.Duration  // 検出から再生成までの待機時間
	MaxRetries          int            // ワーカーIDごとの再生成上限（0で無制限）
	AutoRespawn         bool           // 終了したワーカーを再生成する
	Logger              *logger.Logger // nil なら logger.Default
}

// DefaultConfig はデフォルト設定を返す
// 再生成は明示的に有効にしない限り行わない
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 1 * time.Second,
		RecoveryDelay:       0,
		MaxRetries:          3,
		AutoRespawn:         false,
	}
}

// Target は監視対象のプール
type Target interface {
	Workers() []worker.WorkerInfo
	Respawn(id int) error
}

// WorkerState はワーカーごとの追跡状態
type WorkerState struct {
	FailedAt   time.Time
	RetryCount int
}

// Stats は再生成の統計
type Stats struct {
	TotalRecoveries   uint64 `json:"total_recoveries"`
	SuccessRecoveries uint64 `json:"success_recoveries"`
	FailedRecoveries  uint64 `json:"failed_recoveries"`
	CurrentlyFailed   int    `json:"currently_failed"`
}

// Manager は死んだワーカーを検出して置き換える
type Manager struct {
	config   Config
	target   Target
	eventBus *events.Bus
	log      *logger.Logger

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	states map[int]*WorkerState
	stats  Stats
}

// New は新しいManagerを作成する
func New(target Target, config Config) *Manager {
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}
	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	return &Manager{
		config: config,
		target: target,
		log:    log,
		states: make(map[int]*WorkerState),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Manager) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

func (m *Manager) publishEvent(event events.Event) {
	if m.eventBus != nil {
		m.eventBus.Publish(event)
	}
}

// Start はヘルスチェックループを開始する
func (m *Manager) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.healthCheckLoop()

	m.log.Info(scope, "Supervisor started (interval: %v, respawn: %v, max retries: %d)",
		m.config.HealthCheckInterval, m.config.AutoRespawn, m.config.MaxRetries)
}

// Stop はヘルスチェックループを停止する
// プールの Shutdown より先に呼ぶ
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	stats := m.Stats()
	m.log.Info(scope, "Supervisor stopped (respawns: %d success, %d failed)",
		stats.SuccessRecoveries, stats.FailedRecoveries)
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAndRecover(time.Now())
		}
	}
}

// checkAndRecover は全ワーカーを確認し、必要なら再生成する
func (m *Manager) checkAndRecover(now time.Time) {
	for _, info := range m.target.Workers() {
		m.checkWorker(info, now)
	}
}

func (m *Manager) checkWorker(info worker.WorkerInfo, now time.Time) {
	m.mu.Lock()
	state, exists := m.states[info.ID]
	if !exists {
		state = &WorkerState{}
		m.states[info.ID] = state
	}

	if info.State != worker.StateTerminated.String() {
		if !state.FailedAt.IsZero() {
			state.FailedAt = time.Time{}
			m.stats.CurrentlyFailed--
		}
		m.mu.Unlock()
		return
	}

	if !m.config.AutoRespawn {
		m.mu.Unlock()
		return
	}

	// 初回検出
	if state.FailedAt.IsZero() {
		state.FailedAt = now
		m.stats.CurrentlyFailed++
		m.log.Warn(scope, "Detected dead worker %d: %s", info.ID, info.Error)
	}

	if now.Sub(state.FailedAt) < m.config.RecoveryDelay {
		m.mu.Unlock()
		return
	}

	if m.config.MaxRetries > 0 && state.RetryCount >= m.config.MaxRetries {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	err := m.target.Respawn(info.ID)
	switch {
	case errors.Is(err, worker.ErrWorkerAlive), errors.Is(err, worker.ErrPoolClosed):
		// 終了処理中か、すでにシャットダウン済み
		return
	case err != nil:
		m.mu.Lock()
		m.stats.TotalRecoveries++
		m.stats.FailedRecoveries++
		state.RetryCount++
		m.mu.Unlock()
		m.log.Error(scope, "Failed to respawn worker %d: %v", info.ID, err)
		return
	}

	m.mu.Lock()
	m.stats.TotalRecoveries++
	m.stats.SuccessRecoveries++
	m.stats.CurrentlyFailed--
	state.RetryCount++
	state.FailedAt = time.Time{}
	attempt := state.RetryCount
	m.mu.Unlock()

	m.log.Info(scope, "Respawned worker %d (attempt %d)", info.ID, attempt)
	m.publishEvent(events.NewWorkerRespawnedEvent(info.ID, attempt))
}

// IsRunning は実行中かどうかを返す
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Stats は再生成の統計を返す
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ResetStats は統計をリセットする
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Stats{}
}
