package storage

import (
	"context"
	"errors"
	"strings"

	logx "kcommit/pkg/logx"
)

// Store is the persistence API used by the scheduler and the HTTP layer.
type Store interface {
	// UpsertUser stores or refreshes a user. If u.RepoName is empty and the
	// user already has a repository, the existing repository (and webhook
	// secret) are kept; only the token is refreshed.
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, username string) (User, bool, error)
	// ListTargets returns every user with a provisioned repository.
	ListTargets(ctx context.Context) ([]User, error)
	SetWebhookSecret(ctx context.Context, username, repoName, secret string) error

	RecordCommit(ctx context.Context, c CommitRecord) error
	// ListCommits returns newest-first. limit <= 0 means no limit.
	ListCommits(ctx context.Context, username, repoName string, limit int) ([]CommitRecord, error)
	CountCommits(ctx context.Context, username, repoName string) (int, error)

	PutJob(ctx context.Context, j JobRecord) error
	DeleteJob(ctx context.Context, id string) error
	// DeleteJobsForUser removes every pending row of one user.
	DeleteJobsForUser(ctx context.Context, username string) error
	ListJobs(ctx context.Context) ([]JobRecord, error)
	DeleteAllJobs(ctx context.Context) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return newMemStore(), nil
	case "":
		return nil, errors.New("storage.driver is required (\"sqlite\" or \"memory\")")
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
