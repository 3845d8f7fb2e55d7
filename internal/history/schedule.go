package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule parses the background-persist schedule grammar. Only the
// "ttl + N" form is supported: N seconds, meaning "flush a cached chat
// once fewer than N seconds of its cache TTL remain". Any other schedule
// string is a configuration error, never silently ignored (spec.md §9
// open question 1).
func ParseSchedule(schedule string) (time.Duration, error) {
	s := strings.ToLower(strings.ReplaceAll(schedule, " ", ""))
	const prefix = "ttl+"
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("history: unsupported schedule grammar %q (only \"ttl + N\" is supported)", schedule)
	}
	secs, err := strconv.Atoi(s[len(prefix):])
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("history: invalid schedule %q: %w", schedule, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// FlushInterval returns how often the background persist task wakes:
// min(60s, persistAt/4), floored at 1s to avoid a busy loop for a very
// small persistAt.
func FlushInterval(persistAt time.Duration) time.Duration {
	quarter := persistAt / 4
	if quarter > 60*time.Second {
		return 60 * time.Second
	}
	if quarter < time.Second {
		return time.Second
	}
	return quarter
}
