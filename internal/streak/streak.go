// Package streak derives consecutive-day streaks from raw activity timestamps.
//
// Days are bucketed in a single canonical location, never the client's, so an
// activity at 23:59 and one at 00:01 fall on the days the service agrees on.
package streak

import (
	"sort"
	"time"
)

// Calculator buckets timestamps by calendar day in Location.
type Calculator struct {
	Location *time.Location
}

// New returns a Calculator for loc; nil means UTC.
func New(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return Calculator{Location: loc}
}

func (c Calculator) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// dayIndex maps t to a day number in the canonical location; DST shifts do
// not affect it because the civil date is re-anchored in UTC.
func (c Calculator) dayIndex(t time.Time) int64 {
	y, m, d := t.In(c.loc()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func (c Calculator) daySet(times []time.Time) map[int64]struct{} {
	set := make(map[int64]struct{}, len(times))
	for _, t := range times {
		set[c.dayIndex(t)] = struct{}{}
	}
	return set
}

// Current walks backward from today counting consecutive active days. If
// today has no activity yet the walk starts at yesterday, since today can
// still be claimed.
func (c Calculator) Current(times []time.Time, now time.Time) int {
	if len(times) == 0 {
		return 0
	}
	set := c.daySet(times)
	day := c.dayIndex(now)
	if _, ok := set[day]; !ok {
		day--
	}
	n := 0
	for {
		if _, ok := set[day]; !ok {
			return n
		}
		n++
		day--
	}
}

// Longest returns the longest run of consecutive active days.
func (c Calculator) Longest(times []time.Time) int {
	days := c.sortedDays(times)
	if len(days) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i] == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// AliveSince returns the start of yesterday in the canonical location. A
// claim at or after it keeps the current streak positive at now.
func (c Calculator) AliveSince(now time.Time) time.Time {
	y, m, d := now.In(c.loc()).Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, c.loc())
}

// Days returns the distinct active days as midnights in the canonical location, ascending.
func (c Calculator) Days(times []time.Time) []time.Time {
	days := c.sortedDays(times)
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		y, m, dd := time.Unix(d*86400, 0).UTC().Date()
		out = append(out, time.Date(y, m, dd, 0, 0, 0, 0, c.loc()))
	}
	return out
}

func (c Calculator) sortedDays(times []time.Time) []int64 {
	set := c.daySet(times)
	days := make([]int64, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}
