package schedule

import (
	"context"
	"fmt"
	"time"

	"kcommit/internal/storage"
	logx "kcommit/pkg/logx"
)

// ScheduledCommitCount reports how many commit jobs are still pending for
// the user. Midnight trigger entries are excluded.
func (s *Service) ScheduledCommitCount(username string) int {
	n := 0
	for _, id := range s.reg.IDs(username) {
		s.tmu.Lock()
		j, ok := s.jobs[id]
		s.tmu.Unlock()
		if ok && j.Kind == storage.JobKindCommit {
			n++
		}
	}
	return n
}

// NextCommit reports the soonest pending commit for the user, with the
// countdown fields the status surface exposes.
func (s *Service) NextCommit(username string) NextCommitInfo {
	var (
		best  Job
		found bool
	)
	for _, id := range s.reg.IDs(username) {
		s.tmu.Lock()
		j, ok := s.jobs[id]
		s.tmu.Unlock()
		if !ok || j.Kind != storage.JobKindCommit {
			continue
		}
		if !found || j.FireAt.Before(best.FireAt) {
			best = j
			found = true
		}
	}
	if !found {
		return NextCommitInfo{}
	}

	secs := int64(best.FireAt.Sub(s.now()) / time.Second)
	if secs < 0 {
		secs = 0
	}
	at := best.FireAt
	return NextCommitInfo{
		HasScheduled: true,
		At:           &at,
		SecondsUntil: &secs,
		Formatted:    at.Format("2006-01-02 15:04:05"),
		Countdown:    formatCountdown(secs),
	}
}

// Status assembles the scheduling view for one user. A user with a stored
// token but no midnight trigger (after a crash, or a partial restore) gets
// the trigger reinstalled here rather than staying dark until someone
// re-onboards them.
func (s *Service) Status(ctx context.Context, username string) (StatusView, error) {
	count := s.ScheduledCommitCount(username)

	u, uok, uerr := s.store.GetUser(ctx, username)
	if count == 0 && uerr == nil && uok && u.Token != "" && u.RepoName != "" {
		if !s.hasTrigger(username) {
			s.log.Info("status self-heal: reinstalling midnight trigger", logx.String("user", username))
			s.EnsureDailyTrigger(ctx, Target{Username: u.Username, Token: u.Token, RepoName: u.RepoName})
		}
	}

	total := 0
	if uok && u.RepoName != "" {
		var err error
		total, err = s.store.CountCommits(ctx, username, u.RepoName)
		if err != nil {
			return StatusView{}, fmt.Errorf("count commits for %s: %w", username, err)
		}
	}

	return StatusView{
		ScheduledCommits: count,
		TotalCommits:     total,
		Next:             s.NextCommit(username),
	}, nil
}

func (s *Service) hasTrigger(username string) bool {
	s.mu.Lock()
	_, ok := s.triggers[username]
	s.mu.Unlock()
	return ok
}

// formatCountdown renders whole seconds as HH:MM:SS. Hours widen past two
// digits rather than wrap.
func formatCountdown(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	sec := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
