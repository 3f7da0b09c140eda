package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (durable tier)
//   - "memory": in-process maps (volatile tier, data lost on restart)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// User is one automation target: a platform account, its API credential,
// and the repository kcommit commits to.
type User struct {
	Username      string
	Token         string
	RepoName      string
	WebhookSecret string
}

// CommitRecord is one recorded commit against a user's repository.
type CommitRecord struct {
	ID        int64
	Username  string
	RepoName  string
	SHA       string
	Message   string
	URL       string
	CreatedAt time.Time
}

// Job kinds persisted in the job table.
const (
	JobKindCommit    = "commit"
	JobKindDailyPlan = "daily_plan"
)

// JobRecord is a pending scheduled job. Rows are written when a day is
// planned and deleted when the job fires or is replaced, so the table only
// ever holds not-yet-fired work.
type JobRecord struct {
	ID       string
	Username string
	RepoName string
	Kind     string
	FireAt   time.Time
}
