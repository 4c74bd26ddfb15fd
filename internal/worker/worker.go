package worker

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"pool-server/internal/events"
)

// State はワーカーの状態
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Worker はIDと1つのゴルーチンの組
type Worker struct {
	id    int
	state atomic.Int32
	jobs  atomic.Uint64
	done  chan struct{}

	// done が閉じられる前に一度だけ書き込まれる
	err error
}

func newWorker(id int) *Worker {
	return &Worker{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID はワーカーIDを返す
func (w *Worker) ID() int {
	return w.id
}

// State は現在の状態を返す
func (w *Worker) State() State {
	return State(w.state.Load())
}

// JobsRun は実行したジョブ数を返す
func (w *Worker) JobsRun() uint64 {
	return w.jobs.Load()
}

// Done はゴルーチン終了時に閉じられるチャネルを返す
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Join はゴルーチンの終了を待ち、異常終了ならその原因を返す
func (w *Worker) Join() error {
	<-w.done
	return w.err
}

func (w *Worker) scope() string {
	return fmt.Sprintf("worker-%d", w.id)
}

// run はキューが切断されるまでジョブを取り出して実行する
func (w *Worker) run(p *Pool) {
	disconnected := false
	defer func() {
		// ジョブが runtime.Goexit を呼ぶと recover を経ずにここへ来る
		if !disconnected && w.err == nil {
			w.err = fmt.Errorf("worker %d: %w", w.id, ErrJobExited)
			p.log.Error(w.scope(), "%v", w.err)
			p.publish(events.NewWorkerPanickedEvent(w.id, w.err))
		}
		w.state.Store(int32(StateTerminated))
		close(w.done)
	}()

	p.publish(events.NewWorkerStartedEvent(w.id))

	for {
		w.state.Store(int32(StateIdle))

		job, err := p.queue.Receive()
		if err != nil {
			disconnected = true
			p.log.Info(w.scope(), "Worker %d disconnected; shutting down", w.id)
			return
		}

		w.state.Store(int32(StateRunning))
		p.log.Debug(w.scope(), "Worker %d got a job; executing", w.id)

		if err := w.execute(p, job); err != nil {
			w.err = err
			p.log.Error(w.scope(), "%v\n%s", err, err.(*PanicError).Stack)
			p.publish(events.NewWorkerPanickedEvent(w.id, err))
			return
		}
	}
}

// execute はジョブを1つ実行する。panic はワーカーの終了理由として返す
func (w *Worker) execute(p *Pool, job Job) (err error) {
	start := time.Now()
	w.jobs.Add(1)
	p.publish(events.NewJobStartedEvent(w.id))

	completed := false
	defer func() {
		if completed {
			return
		}
		p.metrics.RecordFailure(time.Since(start))
		if r := recover(); r != nil {
			err = &PanicError{WorkerID: w.id, Value: r, Stack: debug.Stack()}
		}
	}()

	job()
	completed = true

	took := time.Since(start)
	p.metrics.RecordSuccess(took)
	p.publish(events.NewJobFinishedEvent(w.id, took))
	return nil
}
