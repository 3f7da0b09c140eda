package schedule

import (
	"math/rand"
	"time"
)

// minFireGapSec is the minimum spacing budget per commit: a day's window
// must offer at least this many seconds per planned fire.
const minFireGapSec = 60

// plannedFire is one slot in a day's plan.
type plannedFire struct {
	Index int
	At    time.Time
}

// dayWindow computes the planning window for now: the business-hours
// interval [startHour:00, endHour:00) on now's calendar date, shifted to
// the next day when now is already past the window end. The effective
// start never precedes now.
func dayWindow(now time.Time, startHour, endHour int) (effStart, windowEnd time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	start := time.Date(y, m, d, startHour, 0, 0, 0, loc)
	end := time.Date(y, m, d, endHour, 0, 0, 0, loc)

	if !now.Before(end) {
		// Past business hours: plan tomorrow's window instead.
		start = start.AddDate(0, 0, 1)
		end = end.AddDate(0, 0, 1)
		return start, end
	}
	if now.After(start) {
		return now, end
	}
	return start, end
}

// planDay partitions the window into want equal segments and places one
// fire at a random offset inside each. The offset floor is min(60s, 10% of
// the segment) and the ceiling 90% of the segment, so fires neither hug
// segment boundaries nor land outside the window. If the window cannot fit
// want fires at the minimum spacing, the count is reduced (never below 1).
func planDay(now time.Time, want int, startHour, endHour int, rng *rand.Rand) []plannedFire {
	if want < 1 {
		want = 1
	}
	effStart, windowEnd := dayWindow(now, startHour, endHour)

	available := windowEnd.Sub(effStart).Seconds()
	if available < float64(want*minFireGapSec) {
		want = int(available) / minFireGapSec
		if want < 1 {
			want = 1
		}
	}

	segment := available / float64(want)

	fires := make([]plannedFire, 0, want)
	for i := 0; i < want; i++ {
		segStart := effStart.Add(time.Duration(float64(i) * segment * float64(time.Second)))

		minOff := int(segment * 0.1)
		if minOff > minFireGapSec {
			minOff = minFireGapSec
		}
		maxOff := int(segment * 0.9)
		if maxOff < minOff {
			maxOff = minOff
		}

		off := minOff
		if maxOff > minOff {
			off += rng.Intn(maxOff - minOff + 1)
		}

		at := segStart.Add(time.Duration(off) * time.Second)
		if at.After(windowEnd) {
			at = windowEnd.Add(-minFireGapSec * time.Second)
		}
		fires = append(fires, plannedFire{Index: i, At: at})
	}
	return fires
}
