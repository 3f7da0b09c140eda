package schedule

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kcommit/internal/eventbus"
	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
	logx "kcommit/pkg/logx"
)

// Config controls the scheduling engine.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means time.Local

	// Commits per day are drawn uniformly from [MinPerDay, MaxPerDay].
	MinPerDay int // default 1
	MaxPerDay int // default 10

	// Business-hours window, local hours. Fires are placed in
	// [WindowStartHour:00, WindowEndHour:00).
	WindowStartHour int // default 9
	WindowEndHour   int // default 21

	// FireTimeout bounds a single commit execution. 0 uses the engine default.
	FireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinPerDay <= 0 {
		c.MinPerDay = 1
	}
	if c.MaxPerDay < c.MinPerDay {
		c.MaxPerDay = 10
	}
	if c.WindowStartHour <= 0 {
		c.WindowStartHour = 9
	}
	if c.WindowEndHour <= c.WindowStartHour {
		c.WindowEndHour = 21
	}
	return c
}

// Target is one automation target: who to commit as and where.
type Target struct {
	Username string
	Token    string
	RepoName string
}

// Invoker performs one commit against the external platform.
//
// Implementations own their own timeouts via ctx; the engine only
// guarantees the call runs on a dedicated worker slot.
type Invoker interface {
	Invoke(ctx context.Context, t Target, message string) (sha string, url string, err error)
}

// Store is the persistence surface the engine needs. *storage* drivers
// satisfy it; tests substitute fakes.
type Store interface {
	ListTargets(ctx context.Context) ([]storage.User, error)
	GetUser(ctx context.Context, username string) (storage.User, bool, error)
	RecordCommit(ctx context.Context, c storage.CommitRecord) error
	CountCommits(ctx context.Context, username, repoName string) (int, error)

	PutJob(ctx context.Context, j storage.JobRecord) error
	DeleteJob(ctx context.Context, id string) error
	DeleteJobsForUser(ctx context.Context, username string) error
	ListJobs(ctx context.Context) ([]storage.JobRecord, error)
	DeleteAllJobs(ctx context.Context) error
}

// Job is one live scheduled unit: either a pending commit fire or a
// user's recurring midnight trigger.
type Job struct {
	ID       string
	Kind     string // storage.JobKindCommit or storage.JobKindDailyPlan
	Username string
	RepoName string
	FireAt   time.Time
}

// NextCommitInfo describes the soonest pending commit fire for a user.
// It is derived on demand, never stored.
type NextCommitInfo struct {
	HasScheduled bool       `json:"has_scheduled_commits"`
	At           *time.Time `json:"next_commit_time,omitempty"`
	SecondsUntil *int64     `json:"seconds_until_next,omitempty"`
	Formatted    string     `json:"formatted_time,omitempty"`
	Countdown    string     `json:"formatted_countdown,omitempty"`
}

// StatusView is the facade's answer to a status query.
type StatusView struct {
	ScheduledCommits int            `json:"scheduled_commits"`
	TotalCommits     int            `json:"total_commits"`
	Next             NextCommitInfo `json:"next_commit"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	store   Store
	invoker Invoker
	engine  *engine.Service

	c        *cron.Cron
	triggers map[string]cron.EntryID // username -> midnight entry

	reg *Registry

	// One-shot commit timers. Versions drop callbacks from timers that
	// were replaced before firing.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	jobs   map[string]Job
	ver    map[string]uint64

	// Per-user replan overlap gates (midnight trigger vs. manual onboard).
	planStates map[string]*engine.RunState

	rngMu sync.Mutex
	rng   *rand.Rand

	nowFn func() time.Time
}
