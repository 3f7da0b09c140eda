package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "kcommit/pkg/logx"
)

// openTestStores returns one store per driver so every case runs against
// both the memory and sqlite implementations.
func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}

	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	out["memory"] = mem

	sq, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	out["sqlite"] = sq

	for _, st := range out {
		st := st
		t.Cleanup(func() { _ = st.Close() })
	}
	return out
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty driver")
	}
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := st.GetUser(ctx, "alice"); err != nil || ok {
				t.Fatalf("GetUser on empty store: ok=%v err=%v", ok, err)
			}

			if err := st.UpsertUser(ctx, User{Username: "alice", Token: "t1", RepoName: "daily"}); err != nil {
				t.Fatalf("UpsertUser: %v", err)
			}
			if err := st.SetWebhookSecret(ctx, "alice", "daily", "s3cret"); err != nil {
				t.Fatalf("SetWebhookSecret: %v", err)
			}

			// A token-only refresh keeps the repo binding and secret.
			if err := st.UpsertUser(ctx, User{Username: "alice", Token: "t2"}); err != nil {
				t.Fatalf("UpsertUser refresh: %v", err)
			}
			u, ok, err := st.GetUser(ctx, "alice")
			if err != nil || !ok {
				t.Fatalf("GetUser: ok=%v err=%v", ok, err)
			}
			if u.Token != "t2" {
				t.Fatalf("Token = %q, want t2", u.Token)
			}
			if u.RepoName != "daily" {
				t.Fatalf("RepoName = %q, want daily (binding must survive token refresh)", u.RepoName)
			}
			if u.WebhookSecret != "s3cret" {
				t.Fatalf("WebhookSecret = %q, want s3cret", u.WebhookSecret)
			}
		})
	}
}

func TestListTargetsOnlyProvisionedUsers(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.UpsertUser(ctx, User{Username: "alice", Token: "t", RepoName: "daily"}); err != nil {
				t.Fatal(err)
			}
			// bob authenticated but never provisioned a repo.
			if err := st.UpsertUser(ctx, User{Username: "bob", Token: "t"}); err != nil {
				t.Fatal(err)
			}

			targets, err := st.ListTargets(ctx)
			if err != nil {
				t.Fatalf("ListTargets: %v", err)
			}
			if len(targets) != 1 || targets[0].Username != "alice" {
				t.Fatalf("targets = %+v, want just alice", targets)
			}
		})
	}
}

func TestCommitHistory(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				err := st.RecordCommit(ctx, CommitRecord{
					Username:  "alice",
					RepoName:  "daily",
					SHA:       "sha" + string(rune('a'+i)),
					Message:   "m",
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					t.Fatalf("RecordCommit: %v", err)
				}
			}

			// A replayed delivery of an already recorded sha is a no-op.
			err := st.RecordCommit(ctx, CommitRecord{
				Username: "alice", RepoName: "daily", SHA: "shaa", Message: "m",
				CreatedAt: base.Add(10 * time.Minute),
			})
			if err != nil {
				t.Fatalf("RecordCommit duplicate: %v", err)
			}

			n, err := st.CountCommits(ctx, "alice", "daily")
			if err != nil || n != 5 {
				t.Fatalf("CountCommits = %d, %v; want 5", n, err)
			}
			if n, _ := st.CountCommits(ctx, "alice", "other"); n != 0 {
				t.Fatalf("CountCommits other repo = %d, want 0", n)
			}

			got, err := st.ListCommits(ctx, "alice", "daily", 2)
			if err != nil {
				t.Fatalf("ListCommits: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].SHA != "shae" || got[1].SHA != "shad" {
				t.Fatalf("not newest-first: %s, %s", got[0].SHA, got[1].SHA)
			}

			all, err := st.ListCommits(ctx, "alice", "daily", 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("unlimited list = %d, %v; want 5", len(all), err)
			}
		})
	}
}

func TestJobRoundTrip(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fireAt := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

			j := JobRecord{ID: "alice_daily_0", Username: "alice", RepoName: "daily", Kind: JobKindCommit, FireAt: fireAt}
			if err := st.PutJob(ctx, j); err != nil {
				t.Fatalf("PutJob: %v", err)
			}
			// Upsert with a new fire time replaces, not duplicates.
			j.FireAt = fireAt.Add(time.Hour)
			if err := st.PutJob(ctx, j); err != nil {
				t.Fatalf("PutJob upsert: %v", err)
			}
			if err := st.PutJob(ctx, JobRecord{ID: "alice_daily_scheduler", Username: "alice", RepoName: "daily", Kind: JobKindDailyPlan, FireAt: fireAt}); err != nil {
				t.Fatalf("PutJob trigger: %v", err)
			}

			jobs, err := st.ListJobs(ctx)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != 2 {
				t.Fatalf("jobs = %d, want 2", len(jobs))
			}
			var commit *JobRecord
			for i := range jobs {
				if jobs[i].Kind == JobKindCommit {
					commit = &jobs[i]
				}
			}
			if commit == nil {
				t.Fatal("commit job missing")
			}
			if !commit.FireAt.Equal(fireAt.Add(time.Hour)) {
				t.Fatalf("FireAt = %v, want %v", commit.FireAt, fireAt.Add(time.Hour))
			}

			if err := st.DeleteJob(ctx, "alice_daily_0"); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}
			if jobs, _ = st.ListJobs(ctx); len(jobs) != 1 {
				t.Fatalf("jobs after delete = %d, want 1", len(jobs))
			}

			if err := st.PutJob(ctx, JobRecord{ID: "bob_daily_0", Username: "bob", RepoName: "daily", Kind: JobKindCommit, FireAt: fireAt}); err != nil {
				t.Fatalf("PutJob bob: %v", err)
			}
			if err := st.DeleteJobsForUser(ctx, "alice"); err != nil {
				t.Fatalf("DeleteJobsForUser: %v", err)
			}
			jobs, _ = st.ListJobs(ctx)
			if len(jobs) != 1 || jobs[0].Username != "bob" {
				t.Fatalf("jobs after user delete = %+v, want only bob's", jobs)
			}

			if err := st.DeleteAllJobs(ctx); err != nil {
				t.Fatalf("DeleteAllJobs: %v", err)
			}
			if jobs, _ = st.ListJobs(ctx); len(jobs) != 0 {
				t.Fatalf("jobs after clear = %d, want 0", len(jobs))
			}
		})
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if _, _, err := st.GetUser(ctx, "alice"); err == nil {
				t.Fatal("expected error after Close")
			}
		})
	}
}
