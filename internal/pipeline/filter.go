package pipeline

import "time"

// IsExpired reports whether a normalized deadline has passed relative to the
// reference date. Comparison is at date granularity: a deadline on the
// reference date itself is not expired. Missing and unparseable deadlines
// count as expired.
func IsExpired(deadlineISO string, reference time.Time) bool {
	if deadlineISO == "" {
		return true
	}
	deadline, err := ParseDeadline(deadlineISO)
	if err != nil {
		return true
	}
	return dateOnly(deadline).Before(dateOnly(reference))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
