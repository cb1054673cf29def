package stats

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSince turns a --since value into an absolute time. It accepts Go
// durations ("36h"), day and week counts ("7d", "2w") and dates
// ("2026-03-01" or RFC 3339).
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, now.Location()); err == nil {
		return t, nil
	}

	if n := len(value); n > 1 {
		unit := time.Duration(0)
		switch value[n-1] {
		case 'd':
			unit = 24 * time.Hour
		case 'w':
			unit = 7 * 24 * time.Hour
		}
		if unit != 0 {
			count, err := strconv.Atoi(value[:n-1])
			if err == nil && count >= 0 {
				return now.Add(-time.Duration(count) * unit), nil
			}
		}
	}

	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since value %q", value)
	}
	return now.Add(-d), nil
}
