package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kcommit/internal/eventbus"
	rtsup "kcommit/internal/runtime/supervisor"
	logx "kcommit/pkg/logx"
)

// Service is a fixed-size worker pool with a bounded queue.
//
// Each job fire occupies one worker slot, so a hung downstream call can
// never block other users' fires (it only consumes its own slot).
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight int32
	idSeq    uint64
	dropped  uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task Task

	enqueuedAt time.Time
	timeout    time.Duration

	state *RunState
	track bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg

	// Start is idempotent.
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}

	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	workers := cfg.Workers

	atomic.StoreInt32(&s.inFlight, 0)

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		// Executor failures should not hard-kill the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			return nil
		})
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	go func() {
		// Wait unbounded in background; caller can still time out.
		if sup != nil {
			_ = sup.Stop(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		atomic.StoreInt32(&s.inFlight, 0)
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue tries to enqueue a task without blocking. If the queue is full,
// the task is dropped and ErrQueueFull is returned.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}

	s.mu.Lock()
	queue := s.q
	cfg := s.cfg
	s.mu.Unlock()
	if queue == nil {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	qt := queuedTask{
		task:       t,
		enqueuedAt: time.Now(),
		timeout:    timeout,
		state:      t.State,
	}

	// Overlap gating happens at enqueue time so a queued-but-not-started
	// run also counts as "running".
	if qt.state != nil {
		if !qt.state.tryAcquire() {
			return ErrOverlapSkip
		}
		qt.track = true
	}

	if qt.task.ID == "" {
		qt.task.ID = fmt.Sprintf("t%d", atomic.AddUint64(&s.idSeq, 1))
	}

	select {
	case queue <- qt:
		return nil
	default:
		if qt.track {
			qt.state.release()
		}
		atomic.AddUint64(&s.dropped, 1)
		s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(queue)))
		return ErrQueueFull
	}
}

// Snapshot returns a point-in-time diagnostics view.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	queue := s.q
	s.mu.Unlock()

	snap := Snapshot{
		Workers:  cfg.Workers,
		InFlight: int(atomic.LoadInt32(&s.inFlight)),
		Dropped:  atomic.LoadUint64(&s.dropped),
	}
	if queue != nil {
		snap.QueueLen = len(queue)
		snap.QueueCap = cap(queue)
	}

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
