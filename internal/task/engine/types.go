package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables the
	// global default.
	DefaultTimeout time.Duration

	HistorySize int
}

// RunState tracks whether a task is already in-flight.
// "Skip if running" is treated as "skip if running OR already queued",
// which prevents queue blow-ups when a trigger fires faster than execution.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Task is a unit of work executed by the engine.
//
// If State is set, a run is skipped while a previous run with the same
// State is queued or executing.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	State   *RunState
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Dropped  uint64

	History []HistoryItem
}
