package worker

import "sync"

// Job はワーカーが実行するジョブを表す
// 一度だけ実行され、引数も戻り値も持たない
type Job func()

// Queue は上限なしのFIFOジョブキュー
// 送信側は複数、受信側も複数で、各ジョブはちょうど1つの受信者に渡る
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Job
	closed bool
}

// NewQueue は空のキューを作成する
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send はジョブを積む。ブロックしない
// Close 後は ErrSendFailed を返す
func (q *Queue) Send(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrSendFailed
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Receive はジョブが来るまでブロックする
// Close 済みかつ空になったら ErrDisconnected を返す
func (q *Queue) Receive() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	// 閉じていても残っているジョブは先に配る
	if len(q.items) == 0 {
		return nil, ErrDisconnected
	}

	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return job, nil
}

// Close は送信側を閉じ、待機中の全受信者を起こす
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len は未取得のジョブ数を返す
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
