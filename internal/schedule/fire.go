package schedule

import (
	"context"
	"fmt"
	"time"

	"kcommit/internal/eventbus"
	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
	logx "kcommit/pkg/logx"
)

// armCommitLocked installs a one-shot timer for j. Caller holds tmu.
// Each arm bumps the job version; a callback from a superseded timer
// compares versions and drops itself.
func (s *Service) armCommitLocked(j Job, t Target) {
	if old, ok := s.timers[j.ID]; ok {
		_ = old.Stop()
	}
	s.ver[j.ID]++
	v := s.ver[j.ID]
	s.jobs[j.ID] = j

	d := j.FireAt.Sub(s.now())
	if d < 0 {
		d = 0
	}
	target := t
	s.timers[j.ID] = time.AfterFunc(d, func() {
		s.onTimerFire(j.ID, v, target)
	})
}

func (s *Service) onTimerFire(id string, v uint64, t Target) {
	s.tmu.Lock()
	if s.ver[id] != v {
		s.tmu.Unlock()
		return
	}
	job, ok := s.jobs[id]
	delete(s.timers, id)
	s.tmu.Unlock()
	if !ok {
		return
	}

	cfg := s.config()
	err := s.engine.Enqueue(engine.Task{
		ID:      id,
		Name:    "commit:" + job.Username,
		Timeout: cfg.FireTimeout,
		Run: func(ctx context.Context) error {
			return s.runCommit(ctx, job, t)
		},
	})
	if err != nil {
		s.log.Error("commit enqueue failed", logx.String("job", id), logx.Err(err))
		s.retireJob(context.Background(), job)
	}
}

// runCommit performs one scheduled commit end to end. The job is retired
// whether the push succeeds or not; a failed fire is logged and skipped,
// never retried.
func (s *Service) runCommit(ctx context.Context, job Job, t Target) error {
	defer s.retireJob(ctx, job)

	target := t
	if u, ok, err := s.store.GetUser(ctx, job.Username); err == nil && ok {
		if u.Token != "" {
			target.Token = u.Token
		}
		if u.RepoName != "" {
			target.RepoName = u.RepoName
		}
	}
	if target.Token == "" {
		err := fmt.Errorf("no token on file for %s", job.Username)
		s.log.Warn("commit skipped", logx.String("job", job.ID), logx.Err(err))
		return err
	}

	message := "Automated commit at " + s.now().Format("2006-01-02 15:04:05")
	sha, url, err := s.invoker.Invoke(ctx, target, message)
	if err != nil {
		s.log.Error("commit failed",
			logx.String("job", job.ID),
			logx.String("user", job.Username),
			logx.String("repo", target.RepoName),
			logx.Err(err),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeCommitFailed, Data: map[string]any{
				"user": job.Username, "repo": target.RepoName, "job": job.ID, "error": err.Error(),
			}})
		}
		return err
	}

	if rerr := s.store.RecordCommit(ctx, storage.CommitRecord{
		Username:  job.Username,
		RepoName:  target.RepoName,
		SHA:       sha,
		Message:   message,
		URL:       url,
		CreatedAt: s.now(),
	}); rerr != nil {
		s.log.Warn("commit history write failed", logx.String("job", job.ID), logx.Err(rerr))
	}

	s.log.Info("commit pushed",
		logx.String("user", job.Username),
		logx.String("repo", target.RepoName),
		logx.String("sha", short(sha)),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCommitFired, Data: map[string]any{
			"user": job.Username, "repo": target.RepoName, "sha": sha,
		}})
	}
	return nil
}

// retireJob removes every trace of a fired (or abandoned) commit job:
// registry entry, runtime state, persisted row.
func (s *Service) retireJob(ctx context.Context, job Job) {
	s.reg.Remove(job.Username, job.ID)

	s.tmu.Lock()
	if tm, ok := s.timers[job.ID]; ok {
		_ = tm.Stop()
		delete(s.timers, job.ID)
	}
	delete(s.jobs, job.ID)
	s.ver[job.ID]++
	s.tmu.Unlock()

	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		s.log.Warn("job row delete failed", logx.String("job", job.ID), logx.Err(err))
	}
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
