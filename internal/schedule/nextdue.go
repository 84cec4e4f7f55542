package schedule

import "time"

// NextDue advances start by whole periods until it is no longer in the past
// and returns the result. Missed ticks are skipped, never queued: a job that
// slept through three periods fires once at the next boundary, not three
// times. Both job creation (normalizing a user-supplied start into the
// future) and listing (computing the next fire time) go through here.
//
// A non-positive period would loop forever; it returns start unchanged so a
// corrupt record degrades to "fires now" instead of hanging the caller.
func NextDue(start time.Time, periodMinutes int, now time.Time) time.Time {
	if periodMinutes <= 0 {
		return start
	}
	step := time.Duration(periodMinutes) * time.Minute
	for start.Before(now) {
		start = start.Add(step)
	}
	return start
}

// NextDueUnix is NextDue over epoch seconds, matching how jobs persist their
// start timestamp.
func NextDueUnix(start int64, periodMinutes int, now int64) int64 {
	if periodMinutes <= 0 {
		return start
	}
	step := int64(periodMinutes) * 60
	for start < now {
		start += step
	}
	return start
}
