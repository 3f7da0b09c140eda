package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"kcommit/internal/eventbus"
	logx "kcommit/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, t)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qt.enqueuedAt.IsZero() {
		queueDelay = start.Sub(qt.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.started", Time: start, Data: TaskEvent{
			ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay,
		}})
	}

	err := s.runOnce(ctx, qt)
	if qt.track && qt.state != nil {
		qt.state.release()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Debug("task.done", logx.String("task", qt.task.Name), logx.Duration("took", dur))
	}
	s.appendHistory(item)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.finished", Time: time.Now(), Data: TaskEvent{
			ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error,
		}})
	}
}

func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			s.log.Error("task panic",
				logx.String("task", qt.task.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	return qt.task.Run(runCtx)
}
