package schedule

import "sync"

// Registry is the process-wide index from username to that user's job ids,
// in scheduling order. It owns its own lock: it is touched both by request
// threads (queries, onboarding) and by the scheduler's fire path.
//
// The registry holds references only. Job ownership (timers, persisted
// rows) lives with the Service; ids present here but gone elsewhere are
// filtered out on read paths instead of failing.
type Registry struct {
	mu   sync.Mutex
	jobs map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string][]string{}}
}

// Add appends id to the user's entry unless it is already present.
func (r *Registry) Add(username, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.jobs[username] {
		if have == id {
			return
		}
	}
	r.jobs[username] = append(r.jobs[username], id)
}

// Remove deletes id from the user's entry. It reports whether the id was
// present.
func (r *Registry) Remove(username, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.jobs[username]
	for i, have := range ids {
		if have == id {
			r.jobs[username] = append(ids[:i:i], ids[i+1:]...)
			if len(r.jobs[username]) == 0 {
				delete(r.jobs, username)
			}
			return true
		}
	}
	return false
}

// IDs returns a copy of the user's job ids in scheduling order.
func (r *Registry) IDs(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.jobs[username]
	if len(ids) == 0 {
		return nil
	}
	return append([]string(nil), ids...)
}

// Swap atomically replaces the user's ids matched by drop with add,
// returning the dropped ids. Ids not matched by drop keep their position.
// Readers never observe the entry half-replaced.
func (r *Registry) Swap(username string, drop func(id string) bool, add []string) (dropped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]string, 0, len(r.jobs[username])+len(add))
	have := make(map[string]bool, len(r.jobs[username]))
	for _, id := range r.jobs[username] {
		if drop != nil && drop(id) {
			dropped = append(dropped, id)
			continue
		}
		kept = append(kept, id)
		have[id] = true
	}
	// Recycled ids (replaced in place) are already kept; don't duplicate.
	for _, id := range add {
		if !have[id] {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(r.jobs, username)
	} else {
		r.jobs[username] = kept
	}
	return dropped
}

// Reset discards every entry. Used by the restore procedure, which
// rebuilds the index wholesale from the user list.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.jobs = map[string][]string{}
	r.mu.Unlock()
}

// Users returns every username with at least one registered job.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for u := range r.jobs {
		out = append(out, u)
	}
	return out
}
