package schedule

import (
	"math/rand"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestDayWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		now       string
		wantStart string
		wantEnd   string
	}{
		{name: "before window starts at window open", now: "2025-03-10 07:30:00", wantStart: "2025-03-10 09:00:00", wantEnd: "2025-03-10 21:00:00"},
		{name: "inside window starts now", now: "2025-03-10 14:22:10", wantStart: "2025-03-10 14:22:10", wantEnd: "2025-03-10 21:00:00"},
		{name: "at window open", now: "2025-03-10 09:00:00", wantStart: "2025-03-10 09:00:00", wantEnd: "2025-03-10 21:00:00"},
		{name: "at window close rolls to tomorrow", now: "2025-03-10 21:00:00", wantStart: "2025-03-11 09:00:00", wantEnd: "2025-03-11 21:00:00"},
		{name: "late evening rolls to tomorrow", now: "2025-03-10 23:45:00", wantStart: "2025-03-11 09:00:00", wantEnd: "2025-03-11 21:00:00"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			start, end := dayWindow(mustTime(t, tt.now), 9, 21)
			if !start.Equal(mustTime(t, tt.wantStart)) {
				t.Fatalf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(mustTime(t, tt.wantEnd)) {
				t.Fatalf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestPlanDayFiresInsideWindow(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 07:00:00")

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		want := 1 + rng.Intn(10)
		fires := planDay(now, want, 9, 21, rng)

		if len(fires) != want {
			t.Fatalf("seed %d: got %d fires, want %d", seed, len(fires), want)
		}
		start, end := dayWindow(now, 9, 21)
		for _, f := range fires {
			if f.At.Before(start) || !f.At.Before(end) {
				t.Fatalf("seed %d: fire %d at %v outside [%v, %v)", seed, f.Index, f.At, start, end)
			}
		}
	}
}

func TestPlanDayStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 10:00:00")

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		fires := planDay(now, 10, 9, 21, rng)
		for i := 1; i < len(fires); i++ {
			if !fires[i].At.After(fires[i-1].At) {
				t.Fatalf("seed %d: fire %d (%v) not after fire %d (%v)",
					seed, i, fires[i].At, i-1, fires[i-1].At)
			}
		}
	}
}

func TestPlanDayReducesCountWhenWindowShort(t *testing.T) {
	t.Parallel()
	// Five minutes of window left: 10 requested fires cannot keep a
	// 60-second spacing budget each, so the plan shrinks to 5.
	now := mustTime(t, "2025-03-10 20:55:00")
	rng := rand.New(rand.NewSource(1))

	fires := planDay(now, 10, 9, 21, rng)
	if len(fires) != 5 {
		t.Fatalf("got %d fires, want 5", len(fires))
	}
	_, end := dayWindow(now, 9, 21)
	for _, f := range fires {
		if !f.At.Before(end) {
			t.Fatalf("fire %d at %v not before window end %v", f.Index, f.At, end)
		}
	}
}

func TestPlanDayNeverBelowOne(t *testing.T) {
	t.Parallel()
	// Thirty seconds left in the window still yields a single fire.
	now := mustTime(t, "2025-03-10 20:59:30")
	rng := rand.New(rand.NewSource(7))

	fires := planDay(now, 10, 9, 21, rng)
	if len(fires) != 1 {
		t.Fatalf("got %d fires, want 1", len(fires))
	}
}

func TestPlanDayAfterHoursPlansTomorrow(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-03-10 22:00:00")
	rng := rand.New(rand.NewSource(3))

	fires := planDay(now, 5, 9, 21, rng)
	if len(fires) != 5 {
		t.Fatalf("got %d fires, want 5", len(fires))
	}
	dayStart := mustTime(t, "2025-03-11 09:00:00")
	for _, f := range fires {
		if f.At.Before(dayStart) {
			t.Fatalf("fire %d at %v lands before tomorrow's window", f.Index, f.At)
		}
	}
}
