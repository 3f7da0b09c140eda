package schedule

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"kcommit/internal/eventbus"
	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
	logx "kcommit/pkg/logx"
)

// midnightSpec replans every user's day at 00:00 scheduler time.
const midnightSpec = "0 0 * * *"

func New(cfg Config, store Store, invoker Invoker, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		log:        log,
		bus:        bus,
		store:      store,
		invoker:    invoker,
		engine:     eng,
		triggers:   map[string]cron.EntryID{},
		reg:        NewRegistry(),
		timers:     map[string]*time.Timer{},
		jobs:       map[string]Job{},
		ver:        map[string]uint64{},
		planStates: map[string]*engine.RunState{},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		nowFn:      time.Now,
	}
}

// Registry exposes the job index for diagnostics.
func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) now() time.Time {
	t := s.nowFn()
	if loc := s.location(); loc != nil {
		return t.In(loc)
	}
	return t
}

func (s *Service) config() Config {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return cfg
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		return time.Local
	}
	return loc
}

// Start starts the midnight cron. Commit timers are armed by Restore()
// and by Onboard(); Start does not arm anything by itself.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // reserved for context-driven stop policies

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithLocation(loc))
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()))
}

// Stop stops the cron and all runtime commit timers. Persisted job rows
// remain so the next Restore() can re-arm them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.triggers = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps config at runtime. A timezone change restarts the cron with
// the new location and re-derives every registered midnight trigger.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg.withDefaults()
	newTZ := strings.TrimSpace(cfg.Timezone)
	running := s.c != nil
	s.mu.Unlock()

	if running && oldTZ != newTZ {
		s.restartCron()
	}
}

func (s *Service) restartCron() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.triggers = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithLocation(loc))
	s.c.Start()
	s.mu.Unlock()

	// Re-derive triggers for every user we were driving.
	for _, username := range s.reg.Users() {
		u, ok, err := s.store.GetUser(context.Background(), username)
		if err != nil || !ok || u.RepoName == "" {
			continue
		}
		s.EnsureDailyTrigger(context.Background(), Target{Username: u.Username, Token: u.Token, RepoName: u.RepoName})
	}
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Onboard lays down today's plan for the target and installs its midnight
// trigger. Safe to call repeatedly; both halves are upserts.
func (s *Service) Onboard(ctx context.Context, t Target) error {
	if _, err := s.PlanToday(ctx, t); err != nil {
		return err
	}
	s.EnsureDailyTrigger(ctx, t)
	return nil
}

// EnsureDailyTrigger installs (or replaces) the user's recurring midnight
// replan job. The job id is stable, so repeated calls never duplicate.
func (s *Service) EnsureDailyTrigger(ctx context.Context, t Target) {
	id := dailyJobID(t.Username)

	s.mu.Lock()
	c := s.c
	if c != nil {
		if prev, ok := s.triggers[t.Username]; ok {
			c.Remove(prev)
			delete(s.triggers, t.Username)
		}
	}
	state := s.planStates[t.Username]
	if state == nil {
		state = &engine.RunState{}
		s.planStates[t.Username] = state
	}
	s.mu.Unlock()

	if c == nil {
		s.log.Warn("scheduler not started; trigger not installed", logx.String("user", t.Username))
		return
	}

	target := t
	entryID, err := c.AddFunc(midnightSpec, func() {
		s.enqueueReplan(target, state)
	})
	if err != nil {
		s.log.Error("midnight trigger register failed", logx.String("user", t.Username), logx.Err(err))
		return
	}

	s.mu.Lock()
	s.triggers[t.Username] = entryID
	s.mu.Unlock()

	s.reg.Add(t.Username, id)

	// Mirror the trigger into the job store so the layout stays whole; it
	// is re-derived from the user list on restore either way.
	next := c.Entry(entryID).Next
	if err := s.store.PutJob(ctx, storage.JobRecord{
		ID: id, Username: t.Username, RepoName: t.RepoName,
		Kind: storage.JobKindDailyPlan, FireAt: next,
	}); err != nil {
		s.log.Warn("trigger persist failed", logx.String("user", t.Username), logx.Err(err))
	}

	s.log.Debug("midnight trigger installed", logx.String("user", t.Username), logx.Time("next", next))
}

func (s *Service) enqueueReplan(t Target, state *engine.RunState) {
	err := s.engine.Enqueue(engine.Task{
		Name:  "replan:" + t.Username,
		State: state,
		Run: func(ctx context.Context) error {
			// Refresh the credential; the token stored at trigger setup
			// may have been rotated since.
			target := t
			if u, ok, err := s.store.GetUser(ctx, t.Username); err == nil && ok && u.Token != "" {
				target.Token = u.Token
				if u.RepoName != "" {
					target.RepoName = u.RepoName
				}
			}
			_, err := s.PlanToday(ctx, target)
			return err
		},
	})
	if err != nil {
		s.log.Warn("replan enqueue failed", logx.String("user", t.Username), logx.Err(err))
	}
}

// PlanToday computes a fresh randomized plan for the rest of the target's
// day and swaps it in, replacing any not-yet-fired commit jobs. The
// midnight trigger entry is untouched. Returns the number of fires laid
// down.
func (s *Service) PlanToday(ctx context.Context, t Target) (int, error) {
	cfg := s.config()
	now := s.now()

	want := s.drawCount(cfg)
	fires := planDay(now, want, cfg.WindowStartHour, cfg.WindowEndHour, s.randSource())

	newJobs := make([]Job, 0, len(fires))
	newIDs := make([]string, 0, len(fires))
	newSet := map[string]bool{}
	for _, f := range fires {
		j := Job{
			ID:       commitJobID(t.Username, t.RepoName, f.Index),
			Kind:     storage.JobKindCommit,
			Username: t.Username,
			RepoName: t.RepoName,
			FireAt:   f.At,
		}
		newJobs = append(newJobs, j)
		newIDs = append(newIDs, j.ID)
		newSet[j.ID] = true
	}

	// Arm the new timers first, then swap the registry entry in one step,
	// so count/next readers never observe an empty plan mid-replace.
	s.tmu.Lock()
	for _, j := range newJobs {
		s.armCommitLocked(j, t)
	}
	s.tmu.Unlock()

	dropped := s.reg.Swap(t.Username, func(id string) bool {
		if newSet[id] {
			return false
		}
		s.tmu.Lock()
		j, ok := s.jobs[id]
		s.tmu.Unlock()
		return ok && j.Kind == storage.JobKindCommit
	}, newIDs)

	for _, id := range dropped {
		s.tmu.Lock()
		if tm, ok := s.timers[id]; ok {
			_ = tm.Stop()
			delete(s.timers, id)
		}
		delete(s.jobs, id)
		s.ver[id]++
		s.tmu.Unlock()

		if err := s.store.DeleteJob(ctx, id); err != nil {
			// Transient store trouble must not abort the batch.
			s.log.Warn("stale job delete failed", logx.String("job", id), logx.Err(err))
		}
	}

	persisted := 0
	for _, j := range newJobs {
		err := s.store.PutJob(ctx, storage.JobRecord{
			ID: j.ID, Username: j.Username, RepoName: j.RepoName,
			Kind: j.Kind, FireAt: j.FireAt,
		})
		if err != nil {
			s.log.Warn("job persist failed", logx.String("job", j.ID), logx.Err(err))
			continue
		}
		persisted++
	}

	s.log.Info("day planned",
		logx.String("user", t.Username),
		logx.String("repo", t.RepoName),
		logx.Int("commits", len(newJobs)),
		logx.Int("replaced", len(dropped)),
		logx.Int("persisted", persisted),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDayPlanned, Data: map[string]any{
			"user": t.Username, "repo": t.RepoName, "commits": len(newJobs),
		}})
	}
	return len(newJobs), nil
}

func (s *Service) drawCount(cfg Config) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	span := cfg.MaxPerDay - cfg.MinPerDay + 1
	return cfg.MinPerDay + s.rng.Intn(span)
}

func (s *Service) randSource() *rand.Rand {
	// planDay draws a handful of offsets; sharing the service RNG under
	// rngMu would force the planner to know about the lock, so hand it a
	// child seeded from the service RNG instead.
	s.rngMu.Lock()
	seed := s.rng.Int63()
	s.rngMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func dailyJobID(username string) string { return username + "_daily_scheduler" }

func commitJobID(username, repo string, i int) string {
	return username + "_" + repo + "_" + strconv.Itoa(i)
}
