package schedule

import (
	"reflect"
	"testing"
)

func TestRegistryAddRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.Add("alice", "a_repo_0")
	r.Add("alice", "a_repo_1")
	r.Add("alice", "a_repo_0") // duplicate ignored

	if got := r.IDs("alice"); !reflect.DeepEqual(got, []string{"a_repo_0", "a_repo_1"}) {
		t.Fatalf("IDs = %v", got)
	}

	if !r.Remove("alice", "a_repo_0") {
		t.Fatal("Remove returned false for present id")
	}
	if r.Remove("alice", "a_repo_0") {
		t.Fatal("Remove returned true for absent id")
	}
	if got := r.IDs("alice"); !reflect.DeepEqual(got, []string{"a_repo_1"}) {
		t.Fatalf("IDs after remove = %v", got)
	}

	if got := r.IDs("bob"); got != nil {
		t.Fatalf("IDs for unknown user = %v, want nil", got)
	}
}

func TestRegistrySwapReplacesMatchedOnly(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("alice", "alice_daily_scheduler")
	r.Add("alice", "alice_repo_0")
	r.Add("alice", "alice_repo_1")

	isCommit := func(id string) bool { return id != "alice_daily_scheduler" }
	dropped := r.Swap("alice", isCommit, []string{"alice_repo_0", "alice_repo_1", "alice_repo_2"})

	if len(dropped) != 2 {
		t.Fatalf("dropped = %v, want 2 ids", dropped)
	}
	got := r.IDs("alice")
	want := []string{"alice_daily_scheduler", "alice_repo_0", "alice_repo_1", "alice_repo_2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs = %v, want %v", got, want)
	}
}

func TestRegistrySwapDoesNotDuplicateKeptIDs(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("alice", "alice_repo_0")

	dropped := r.Swap("alice", func(string) bool { return false }, []string{"alice_repo_0", "alice_repo_1"})
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}
	got := r.IDs("alice")
	if !reflect.DeepEqual(got, []string{"alice_repo_0", "alice_repo_1"}) {
		t.Fatalf("IDs = %v", got)
	}
}

func TestRegistryResetAndUsers(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("alice", "a1")
	r.Add("bob", "b1")

	if got := len(r.Users()); got != 2 {
		t.Fatalf("Users = %d, want 2", got)
	}
	r.Reset()
	if got := len(r.Users()); got != 0 {
		t.Fatalf("Users after reset = %d, want 0", got)
	}
}
