package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrSendFailed はキューが閉じた後に送信しようとしたときのエラー
	ErrSendFailed = errors.New("worker: send on closed queue")
	// ErrDisconnected はキューが閉じられ、かつ空になったことを示す
	ErrDisconnected = errors.New("worker: queue disconnected")
	// ErrNilJob は nil のジョブが渡されたときのエラー
	ErrNilJob = errors.New("worker: nil job")
	// ErrPoolClosed はシャットダウン後の操作を示す
	ErrPoolClosed = errors.New("worker: pool is shut down")
	// ErrWorkerAlive は稼働中のワーカーを再生成しようとしたときのエラー
	ErrWorkerAlive = errors.New("worker: worker is still running")
	// ErrUnknownWorker は存在しないワーカーIDを示す
	ErrUnknownWorker = errors.New("worker: unknown worker id")
	// ErrJobExited はジョブが runtime.Goexit でワーカーを終わらせたことを示す
	ErrJobExited = errors.New("worker: job exited the worker goroutine")
)

// PanicError はジョブのpanicによってワーカーが終了したことを表す
type PanicError struct {
	WorkerID int
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker %d: job panicked: %v", e.WorkerID, e.Value)
}

// Unwrap は panic 値が error の場合にそれを返す
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
