// Package events carries worker pool lifecycle notifications from the pool
// and the supervisor to observers such as the admin websocket stream.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine begins its receive loop
	EventWorkerStarted EventType = "worker_started"
	// EventJobStarted is emitted when a worker claims a job from the queue
	EventJobStarted EventType = "job_started"
	// EventJobFinished is emitted when a job returns normally
	EventJobFinished EventType = "job_finished"
	// EventWorkerPanicked is emitted when a job panics and takes its worker down
	EventWorkerPanicked EventType = "worker_panicked"
	// EventWorkerStopping is emitted when shutdown starts joining a worker
	EventWorkerStopping EventType = "worker_stopping"
	// EventWorkerStopped is emitted once a worker has been joined
	EventWorkerStopped EventType = "worker_stopped"
	// EventWorkerRespawned is emitted when the supervisor replaces a dead worker
	EventWorkerRespawned EventType = "worker_respawned"
	// EventPoolShutdown is emitted when the pool closes its queue
	EventPoolShutdown EventType = "pool_shutdown"
)

// PoolScope is the WorkerID used for events that concern the whole pool.
const PoolScope = -1

// Event represents a pool lifecycle event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  int       `json:"worker_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Duration string `json:"duration,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Pending  int    `json:"pending,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newEvent(t EventType, workerID int) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(workerID int) Event {
	return newEvent(EventWorkerStarted, workerID)
}

// NewJobStartedEvent creates a job started event
func NewJobStartedEvent(workerID int) Event {
	return newEvent(EventJobStarted, workerID)
}

// NewJobFinishedEvent creates a job finished event with the execution time
func NewJobFinishedEvent(workerID int, took time.Duration) Event {
	e := newEvent(EventJobFinished, workerID)
	e.Data.Duration = took.String()
	return e
}

// NewWorkerPanickedEvent creates an event for a worker killed by its job
func NewWorkerPanickedEvent(workerID int, err error) Event {
	e := newEvent(EventWorkerPanicked, workerID)
	if err != nil {
		e.Data.Error = err.Error()
	}
	return e
}

// NewWorkerStoppingEvent creates a worker stopping event
func NewWorkerStoppingEvent(workerID int) Event {
	return newEvent(EventWorkerStopping, workerID)
}

// NewWorkerStoppedEvent creates a worker stopped event
func NewWorkerStoppedEvent(workerID int) Event {
	return newEvent(EventWorkerStopped, workerID)
}

// NewWorkerRespawnedEvent creates a respawn event for the given attempt
func NewWorkerRespawnedEvent(workerID int, attempt int) Event {
	e := newEvent(EventWorkerRespawned, workerID)
	e.Data.Attempt = attempt
	return e
}

// NewPoolShutdownEvent creates a pool shutdown event
func NewPoolShutdownEvent(pending int) Event {
	e := newEvent(EventPoolShutdown, PoolScope)
	e.Data.Pending = pending
	return e
}
