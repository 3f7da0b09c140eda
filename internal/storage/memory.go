package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is the volatile tier. Everything lives in process memory; a
// restart loses pending jobs and the scheduler replans from scratch.
type memStore struct {
	mu      sync.Mutex
	closed  bool
	users   map[string]User
	commits []CommitRecord
	jobs    map[string]JobRecord

	commitSeq int64
}

func newMemStore() Store {
	return &memStore{
		users: map[string]User{},
		jobs:  map[string]JobRecord{},
	}
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpsertUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// Token refresh must not wipe an existing repository binding.
	if existing, ok := s.users[u.Username]; ok && strings.TrimSpace(u.RepoName) == "" && existing.RepoName != "" {
		existing.Token = u.Token
		s.users[u.Username] = existing
		return nil
	}
	s.users[u.Username] = u
	return nil
}

func (s *memStore) GetUser(_ context.Context, username string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return User{}, false, ErrClosed
	}
	u, ok := s.users[username]
	return u, ok, nil
}

func (s *memStore) ListTargets(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []User
	for _, u := range s.users {
		if u.RepoName != "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *memStore) SetWebhookSecret(_ context.Context, username, repoName, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if u, ok := s.users[username]; ok && u.RepoName == repoName {
		u.WebhookSecret = secret
		s.users[username] = u
	}
	return nil
}

func (s *memStore) RecordCommit(_ context.Context, c CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	// Same dedup the sqlite driver gets from its unique (username, sha)
	// index; the fire path and the webhook may both report one commit.
	for _, prev := range s.commits {
		if prev.Username == c.Username && prev.SHA == c.SHA {
			return nil
		}
	}
	s.commitSeq++
	c.ID = s.commitSeq
	s.commits = append(s.commits, c)
	return nil
}

func (s *memStore) ListCommits(_ context.Context, username, repoName string, limit int) ([]CommitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []CommitRecord
	for i := len(s.commits) - 1; i >= 0; i-- {
		c := s.commits[i]
		if c.Username != username || c.RepoName != repoName {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CountCommits(_ context.Context, username, repoName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, c := range s.commits {
		if c.Username == username && c.RepoName == repoName {
			n++
		}
	}
	return n, nil
}

func (s *memStore) PutJob(_ context.Context, j JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) DeleteJobsForUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for id, j := range s.jobs {
		if j.Username == username {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *memStore) ListJobs(_ context.Context) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *memStore) DeleteAllJobs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.jobs = map[string]JobRecord{}
	return nil
}
