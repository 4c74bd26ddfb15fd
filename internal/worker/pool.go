package worker

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"pool-server/internal/events"
	"pool-server/internal/logger"
	"pool-server/internal/metrics"
)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Size    int              // ワーカー数（1以上）
	Logger  *logger.Logger   // nil なら logger.Default
	Events  *events.Bus      // nil ならイベントを発行しない
	Metrics *metrics.Metrics // nil なら内部で作成
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size: runtime.NumCPU(),
	}
}

// Pool は固定数のワーカーと共有キューを所有する
type Pool struct {
	queue   *Queue
	log     *logger.Logger
	bus     *events.Bus
	metrics *metrics.Metrics

	mu       sync.Mutex
	workers  []*Worker
	failures []error // 再生成で置き換えられたワーカーの終了原因
	closed   bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// WorkerInfo はワーカーの状態のスナップショット
type WorkerInfo struct {
	ID      int    `json:"id"`
	State   string `json:"state"`
	JobsRun uint64 `json:"jobs_run"`
	Error   string `json:"error,omitempty"`
}

// New は size 個のワーカーを持つプールを作成する
// size が 0 以下なら panic する
func New(size int) *Pool {
	config := DefaultPoolConfig()
	config.Size = size
	return NewWithConfig(config)
}

// NewWithConfig は設定を指定してプールを作成し、全ワーカーを起動する
func NewWithConfig(config PoolConfig) *Pool {
	if config.Size <= 0 {
		panic(fmt.Sprintf("worker: pool size must be positive, got %d", config.Size))
	}

	p := &Pool{
		queue:   NewQueue(),
		log:     config.Logger,
		bus:     config.Events,
		metrics: config.Metrics,
		workers: make([]*Worker, 0, config.Size),
	}
	if p.log == nil {
		p.log = logger.Default
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	for id := 0; id < config.Size; id++ {
		p.workers = append(p.workers, p.spawn(id))
	}

	p.log.Info("", "WorkerPool started with %d workers", config.Size)
	return p
}

func (p *Pool) spawn(id int) *Worker {
	w := newWorker(id)
	go w.run(p)
	return w
}

func (p *Pool) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// Submit はジョブをキューに積んですぐに戻る
// シャットダウン後の呼び出しは呼び出し側の誤りとして panic する
func (p *Pool) Submit(job Job) {
	if err := p.TrySubmit(job); err != nil {
		panic(err)
	}
}

// TrySubmit は Submit と同じだが、失敗を error で返す
func (p *Pool) TrySubmit(job Job) error {
	if err := p.queue.Send(job); err != nil {
		if errors.Is(err, ErrSendFailed) {
			p.metrics.RecordRejected()
		}
		return err
	}
	p.metrics.RecordSubmit()
	return nil
}

// Shutdown はキューを閉じてから、ID順に全ワーカーの終了を待つ
// 2回目以降の呼び出しは最初の結果を返す
func (p *Pool) Shutdown() error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown()
	})
	return p.shutdownErr
}

func (p *Pool) shutdown() error {
	p.mu.Lock()
	p.closed = true
	workers := slices.Clone(p.workers)
	errs := slices.Clone(p.failures)
	p.mu.Unlock()

	// 先に閉じないと Join が永遠に終わらない
	pending := p.queue.Len()
	p.queue.Close()
	p.publish(events.NewPoolShutdownEvent(pending))
	p.log.Info("", "WorkerPool shutting down (%d queued jobs)", pending)

	for _, w := range workers {
		p.log.Info(w.scope(), "Shutting down worker %d", w.id)
		p.publish(events.NewWorkerStoppingEvent(w.id))

		if err := w.Join(); err != nil {
			errs = append(errs, err)
		}

		p.log.Info(w.scope(), "Worker %d stopped", w.id)
		p.publish(events.NewWorkerStoppedEvent(w.id))
	}

	p.log.Info("", "WorkerPool stopped")
	return errors.Join(errs...)
}

// Respawn は終了したワーカーを同じIDの新しいゴルーチンで置き換える
func (p *Pool) Respawn(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if id < 0 || id >= len(p.workers) {
		return fmt.Errorf("%w: %d", ErrUnknownWorker, id)
	}

	old := p.workers[id]
	select {
	case <-old.done:
	default:
		return ErrWorkerAlive
	}

	if old.err != nil {
		p.failures = append(p.failures, old.err)
	}
	p.workers[id] = p.spawn(id)
	p.log.Warn(old.scope(), "Worker %d respawned", id)
	return nil
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Alive は終了していないワーカー数を返す
func (p *Pool) Alive() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	alive := 0
	for _, w := range p.workers {
		if w.State() != StateTerminated {
			alive++
		}
	}
	return alive
}

// QueueLen は未取得のジョブ数を返す
func (p *Pool) QueueLen() int {
	return p.queue.Len()
}

// Closed はシャットダウンが始まったかどうかを返す
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Metrics はジョブ統計を返す
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}

// Workers は全ワーカーの状態を返す
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	workers := slices.Clone(p.workers)
	p.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		info := WorkerInfo{
			ID:      w.id,
			State:   w.State().String(),
			JobsRun: w.JobsRun(),
		}
		select {
		case <-w.done:
			if w.err != nil {
				info.Error = w.err.Error()
			}
		default:
		}
		infos = append(infos, info)
	}
	return infos
}
