package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"kcommit/internal/eventbus"
	"kcommit/internal/storage"
	logx "kcommit/pkg/logx"
)

// Restore rebuilds runtime scheduling state from the job store. Call it
// after Start, once per process. Persisted commit jobs still in the
// future are re-armed; past-due rows are dropped as accepted loss. Every
// stored user gets their midnight trigger back, and users who come up
// after midnight with an empty day get an immediate replan.
//
// If the rebuild itself fails, the job store is cleared and the rebuild
// runs once more from the user list alone. A second failure leaves the
// scheduler running empty; it is logged, not fatal.
func (s *Service) Restore(ctx context.Context) error {
	err := s.restoreAll(ctx)
	if err == nil {
		return nil
	}

	s.log.Error("restore failed; clearing job store and retrying", logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRestoreFailed, Data: map[string]any{
			"error": err.Error(),
		}})
	}
	s.clearAll(ctx)

	if err2 := s.restoreAll(ctx); err2 != nil {
		s.log.Error("restore retry failed; scheduler is running empty", logx.Err(err2))
		return nil
	}
	return nil
}

func (s *Service) restoreAll(ctx context.Context) error {
	users, err := s.store.ListTargets(ctx)
	if err != nil {
		return err
	}
	rows, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}

	s.resetRuntime()

	targets := make(map[string]Target, len(users))
	for _, u := range users {
		if u.Token == "" || u.RepoName == "" {
			continue
		}
		targets[u.Username] = Target{Username: u.Username, Token: u.Token, RepoName: u.RepoName}
	}

	now := s.now()
	armed, dropped := 0, 0
	orphaned := map[string]bool{}
	for _, r := range rows {
		if r.Kind != storage.JobKindCommit {
			// Trigger rows are re-derived from the user list below.
			continue
		}
		t, ok := targets[r.Username]
		if !ok {
			// The user lost their token or repo binding since the rows were
			// written. Drop everything of theirs in one statement.
			if !orphaned[r.Username] {
				orphaned[r.Username] = true
				if derr := s.store.DeleteJobsForUser(ctx, r.Username); derr != nil {
					s.log.Warn("orphaned jobs delete failed",
						logx.String("user", r.Username), logx.Err(derr))
				}
			}
			dropped++
			continue
		}
		if !r.FireAt.After(now) {
			if derr := s.store.DeleteJob(ctx, r.ID); derr != nil {
				s.log.Warn("stale job delete failed", logx.String("job", r.ID), logx.Err(derr))
			}
			dropped++
			continue
		}
		j := Job{ID: r.ID, Kind: r.Kind, Username: r.Username, RepoName: r.RepoName, FireAt: r.FireAt}
		s.tmu.Lock()
		s.armCommitLocked(j, t)
		s.tmu.Unlock()
		s.reg.Add(r.Username, r.ID)
		armed++
	}

	// A process that comes back well past midnight has missed the replan
	// tick; a user with nothing armed would otherwise stay silent until
	// tomorrow.
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	needPlan := now.Sub(midnight) > time.Hour

	for _, t := range targets {
		s.EnsureDailyTrigger(ctx, t)
		if needPlan && s.ScheduledCommitCount(t.Username) == 0 {
			if _, perr := s.PlanToday(ctx, t); perr != nil {
				s.log.Error("restore replan failed", logx.String("user", t.Username), logx.Err(perr))
			}
		}
	}

	s.log.Info("schedule restored",
		logx.Int("users", len(targets)),
		logx.Int("rearmed", armed),
		logx.Int("dropped", dropped),
	)
	return nil
}

// clearAll wipes every persisted job row and all runtime state. Users and
// commit history are untouched.
func (s *Service) clearAll(ctx context.Context) {
	if err := s.store.DeleteAllJobs(ctx); err != nil {
		s.log.Warn("job store clear failed", logx.Err(err))
	}
	s.resetRuntime()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStoreCleared})
	}
}

func (s *Service) resetRuntime() {
	s.reg.Reset()

	s.tmu.Lock()
	for id, tm := range s.timers {
		_ = tm.Stop()
		s.ver[id]++
	}
	s.timers = map[string]*time.Timer{}
	s.jobs = map[string]Job{}
	s.tmu.Unlock()

	s.mu.Lock()
	if s.c != nil {
		for _, entry := range s.triggers {
			s.c.Remove(entry)
		}
	}
	s.triggers = map[string]cron.EntryID{}
	s.mu.Unlock()
}
