package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/instance-watch/internal/instance"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Look-back bounds for Previous. The limit covers yearly rules such as
// "0 0 29 2 *".
const (
	initialLookBack = time.Minute
	maxLookBack     = 8 * 365 * 24 * time.Hour
)

// Parse parses a cron expression.
func Parse(expr string) (cron.Schedule, error) {
	if !instance.ValidSchedule(expr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return s, nil
}

// Previous returns the latest fire time of expr at or before now.
func Previous(expr string, now time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return previous(s, now)
}

// previous searches a doubling window before now for a fire time and then
// walks forward to the last one not after now.
func previous(s cron.Schedule, now time.Time) (time.Time, error) {
	for window := initialLookBack; window <= maxLookBack; window *= 2 {
		t := s.Next(now.Add(-window))
		if t.IsZero() || t.After(now) {
			continue
		}
		for {
			n := s.Next(t)
			if n.IsZero() || n.After(now) {
				return t, nil
			}
			t = n
		}
	}
	return time.Time{}, ErrNoPrevious
}
