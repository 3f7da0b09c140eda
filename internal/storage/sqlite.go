package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "kcommit/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	// Token refresh must not wipe an existing repository binding.
	if strings.TrimSpace(u.RepoName) == "" {
		var existing sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT repo_name FROM users WHERE username = ?`, u.Username,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		case err != nil:
			return err
		case existing.Valid && existing.String != "":
			_, err = s.db.ExecContext(ctx,
				`UPDATE users SET token = ? WHERE username = ?`, u.Token, u.Username)
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, token, repo_name, webhook_secret) VALUES(?,?,?,?)
		 ON CONFLICT(username) DO UPDATE SET
		   token=excluded.token, repo_name=excluded.repo_name, webhook_secret=excluded.webhook_secret`,
		u.Username, u.Token, nullStr(u.RepoName), nullStr(u.WebhookSecret),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, username string) (User, bool, error) {
	if s == nil || s.db == nil {
		return User{}, false, ErrClosed
	}
	var u User
	var repo, secret sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT username, token, repo_name, webhook_secret FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.Token, &repo, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u.RepoName = repo.String
	u.WebhookSecret = secret.String
	return u, true, nil
}

func (s *sqliteStore) ListTargets(ctx context.Context) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, token, repo_name, webhook_secret FROM users
		 WHERE repo_name IS NOT NULL AND repo_name != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var secret sql.NullString
		if err := rows.Scan(&u.Username, &u.Token, &u.RepoName, &secret); err != nil {
			return nil, err
		}
		u.WebhookSecret = secret.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetWebhookSecret(ctx context.Context, username, repoName, secret string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET webhook_secret = ? WHERE username = ? AND repo_name = ?`,
		secret, username, repoName)
	return err
}

func (s *sqliteStore) RecordCommit(ctx context.Context, c CommitRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	// A commit can arrive twice, once from the fire path and once from the
	// webhook delivery for the same push. (username, sha) is unique.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO commits(username, repo_name, sha, message, url, created_at)
		 VALUES(?,?,?,?,?,?)`,
		c.Username, c.RepoName, c.SHA, c.Message, c.URL, c.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListCommits(ctx context.Context, username, repoName string, limit int) ([]CommitRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	q := `SELECT id, username, repo_name, sha, message, url, created_at FROM commits
	      WHERE username = ? AND repo_name = ? ORDER BY created_at DESC`
	args := []any{username, repoName}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommitRecord
	for rows.Next() {
		var c CommitRecord
		var ts string
		if err := rows.Scan(&c.ID, &c.Username, &c.RepoName, &c.SHA, &c.Message, &c.URL, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountCommits(ctx context.Context, username, repoName string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE username = ? AND repo_name = ?`,
		username, repoName,
	).Scan(&n)
	return n, err
}

func (s *sqliteStore) PutJob(ctx context.Context, j JobRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, username, repo_name, kind, fire_at_ms) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username=excluded.username, repo_name=excluded.repo_name,
		   kind=excluded.kind, fire_at_ms=excluded.fire_at_ms`,
		j.ID, j.Username, j.RepoName, j.Kind, j.FireAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) DeleteJobsForUser(ctx context.Context, username string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE username = ?`, username)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, repo_name, kind, fire_at_ms FROM jobs ORDER BY fire_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var j JobRecord
		var ms int64
		if err := rows.Scan(&j.ID, &j.Username, &j.RepoName, &j.Kind, &ms); err != nil {
			return nil, err
		}
		j.FireAt = time.UnixMilli(ms)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteAllJobs(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
