package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
	logx "kcommit/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]storage.User
	jobs    map[string]storage.JobRecord
	commits []storage.CommitRecord

	failListJobs bool
	clearCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]storage.User{},
		jobs:  map[string]storage.JobRecord{},
	}
}

func (f *fakeStore) ListTargets(context.Context) ([]storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.User
	for _, u := range f.users {
		if u.Token != "" && u.RepoName != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUser(_ context.Context, username string) (storage.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	return u, ok, nil
}

func (f *fakeStore) RecordCommit(_ context.Context, c storage.CommitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	return nil
}

func (f *fakeStore) CountCommits(_ context.Context, username, repoName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commits {
		if c.Username == username && c.RepoName == repoName {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PutJob(_ context.Context, j storage.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) DeleteJobsForUser(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, j := range f.jobs {
		if j.Username == username {
			delete(f.jobs, id)
		}
	}
	return nil
}

func (f *fakeStore) ListJobs(context.Context) ([]storage.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListJobs {
		f.failListJobs = false
		return nil, errors.New("boom")
	}
	var out []storage.JobRecord
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) DeleteAllJobs(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.jobs = map[string]storage.JobRecord{}
	return nil
}

func (f *fakeStore) jobCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Kind == kind {
			n++
		}
	}
	return n
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(context.Context, Target, string) (string, string, error) {
	return "deadbeef", "https://example.test/c/deadbeef", nil
}

func newTestService(t *testing.T, st *fakeStore, now time.Time, perDay int) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 1}, logx.Nop(), nil)
	svc := New(Config{
		Enabled:   true,
		Timezone:  "UTC",
		MinPerDay: perDay,
		MaxPerDay: perDay,
	}, st, fakeInvoker{}, eng, logx.Nop(), nil)
	svc.nowFn = func() time.Time { return now }
	return svc
}

func stopService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(ctx)
}

func TestPlanTodayArmsAndPersists(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	svc := newTestService(t, st, now, 3)
	defer stopService(t, svc)

	target := Target{Username: "alice", Token: "tok", RepoName: "daily"}
	n, err := svc.PlanToday(context.Background(), target)
	if err != nil {
		t.Fatalf("PlanToday error: %v", err)
	}
	if n != 3 {
		t.Fatalf("planned %d fires, want 3", n)
	}
	if got := svc.ScheduledCommitCount("alice"); got != 3 {
		t.Fatalf("ScheduledCommitCount = %d, want 3", got)
	}
	if got := st.jobCount(storage.JobKindCommit); got != 3 {
		t.Fatalf("persisted commit jobs = %d, want 3", got)
	}

	next := svc.NextCommit("alice")
	if !next.HasScheduled || next.At == nil {
		t.Fatal("NextCommit reports nothing scheduled")
	}
	if next.At.Before(now) {
		t.Fatalf("next fire %v before now %v", next.At, now)
	}
	if next.Countdown == "" || next.Formatted == "" {
		t.Fatalf("missing formatted fields: %+v", next)
	}
}

func TestPlanTodayReplacesPreviousPlan(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	svc := newTestService(t, st, now, 4)
	defer stopService(t, svc)

	target := Target{Username: "alice", Token: "tok", RepoName: "daily"}
	if _, err := svc.PlanToday(context.Background(), target); err != nil {
		t.Fatalf("first PlanToday: %v", err)
	}
	if _, err := svc.PlanToday(context.Background(), target); err != nil {
		t.Fatalf("second PlanToday: %v", err)
	}

	if got := svc.ScheduledCommitCount("alice"); got != 4 {
		t.Fatalf("ScheduledCommitCount = %d, want 4", got)
	}
	if got := len(svc.reg.IDs("alice")); got != 4 {
		t.Fatalf("registry ids = %d, want 4 (no duplicates)", got)
	}
	if got := st.jobCount(storage.JobKindCommit); got != 4 {
		t.Fatalf("persisted commit jobs = %d, want 4", got)
	}
}

func TestEnsureDailyTriggerIdempotent(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	svc := newTestService(t, st, now, 1)
	svc.Start(context.Background())
	defer stopService(t, svc)

	target := Target{Username: "alice", Token: "tok", RepoName: "daily"}
	svc.EnsureDailyTrigger(context.Background(), target)
	svc.EnsureDailyTrigger(context.Background(), target)

	seen := 0
	for _, id := range svc.reg.IDs("alice") {
		if id == "alice_daily_scheduler" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("daily trigger registered %d times, want 1", seen)
	}
	if !svc.hasTrigger("alice") {
		t.Fatal("cron entry missing after EnsureDailyTrigger")
	}
	if got := st.jobCount(storage.JobKindDailyPlan); got != 1 {
		t.Fatalf("persisted trigger rows = %d, want 1", got)
	}
	// Trigger entries never count as scheduled commits.
	if got := svc.ScheduledCommitCount("alice"); got != 0 {
		t.Fatalf("ScheduledCommitCount = %d, want 0", got)
	}
}

func TestStatusSelfHealsMissingTrigger(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	st.users["alice"] = storage.User{Username: "alice", Token: "tok", RepoName: "daily"}
	svc := newTestService(t, st, now, 1)
	svc.Start(context.Background())
	defer stopService(t, svc)

	view, err := svc.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if view.ScheduledCommits != 0 {
		t.Fatalf("ScheduledCommits = %d, want 0", view.ScheduledCommits)
	}
	if !svc.hasTrigger("alice") {
		t.Fatal("Status did not reinstall the midnight trigger")
	}
}

func TestRestoreRearmsFutureAndDropsPast(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	st.users["alice"] = storage.User{Username: "alice", Token: "tok", RepoName: "daily"}
	st.jobs["alice_daily_future"] = storage.JobRecord{
		ID: "alice_daily_future", Username: "alice", RepoName: "daily",
		Kind: storage.JobKindCommit, FireAt: now.Add(2 * time.Hour),
	}
	st.jobs["alice_daily_past"] = storage.JobRecord{
		ID: "alice_daily_past", Username: "alice", RepoName: "daily",
		Kind: storage.JobKindCommit, FireAt: now.Add(-1 * time.Hour),
	}
	// A row for a user who no longer has a token is orphaned.
	st.jobs["ghost_daily_1"] = storage.JobRecord{
		ID: "ghost_daily_1", Username: "ghost", RepoName: "daily",
		Kind: storage.JobKindCommit, FireAt: now.Add(3 * time.Hour),
	}

	svc := newTestService(t, st, now, 2)
	svc.Start(context.Background())
	defer stopService(t, svc)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	if got := svc.ScheduledCommitCount("alice"); got != 1 {
		t.Fatalf("ScheduledCommitCount = %d, want 1 (future job only)", got)
	}
	if got := st.jobCount(storage.JobKindCommit); got != 1 {
		t.Fatalf("commit rows after restore = %d, want 1", got)
	}
	if got := svc.ScheduledCommitCount("ghost"); got != 0 {
		t.Fatalf("ScheduledCommitCount(ghost) = %d, want 0", got)
	}
	if !svc.hasTrigger("alice") {
		t.Fatal("midnight trigger not reinstalled")
	}
}

func TestRestoreReplansWhenDayEmpty(t *testing.T) {
	t.Parallel()
	// Ten hours past midnight with nothing armed: the missed midnight
	// replan is made up during restore.
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	st.users["alice"] = storage.User{Username: "alice", Token: "tok", RepoName: "daily"}

	svc := newTestService(t, st, now, 2)
	svc.Start(context.Background())
	defer stopService(t, svc)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if got := svc.ScheduledCommitCount("alice"); got != 2 {
		t.Fatalf("ScheduledCommitCount = %d, want 2", got)
	}
}

func TestRestoreSkipsReplanRightAfterMidnight(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 00:30:00")
	st := newFakeStore()
	st.users["alice"] = storage.User{Username: "alice", Token: "tok", RepoName: "daily"}

	svc := newTestService(t, st, now, 2)
	svc.Start(context.Background())
	defer stopService(t, svc)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if got := svc.ScheduledCommitCount("alice"); got != 0 {
		t.Fatalf("ScheduledCommitCount = %d, want 0 (midnight replan owns the day)", got)
	}
	if !svc.hasTrigger("alice") {
		t.Fatal("midnight trigger not installed")
	}
}

func TestRestoreClearsStoreAndRetriesOnFailure(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")
	st := newFakeStore()
	st.users["alice"] = storage.User{Username: "alice", Token: "tok", RepoName: "daily"}
	st.failListJobs = true

	svc := newTestService(t, st, now, 2)
	svc.Start(context.Background())
	defer stopService(t, svc)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if st.clearCalls != 1 {
		t.Fatalf("DeleteAllJobs called %d times, want 1", st.clearCalls)
	}
	// The retry rebuilds from the user list.
	if got := svc.ScheduledCommitCount("alice"); got != 2 {
		t.Fatalf("ScheduledCommitCount after retry = %d, want 2", got)
	}
}
