package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

var ErrUnknownRecurrencePattern = errors.New("unknown recurrence pattern")

// dateOf is the calendar day of t in loc, as midnight UTC. Date columns are
// compared in that form.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func advance(from time.Time, pattern types.RecurrencePattern, steps int) (time.Time, error) {
	switch pattern {
	case types.RecurrenceWeekly:
		return from.AddDate(0, 0, 7*steps), nil
	case types.RecurrenceBiweekly:
		return from.AddDate(0, 0, 14*steps), nil
	case types.RecurrenceMonthly:
		return from.AddDate(0, steps, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRecurrencePattern, pattern)
	}
}

// NextOccurrence returns the first slot of the series starting at from that
// falls strictly after today. The template's own date never counts. Steps are
// taken from the series start so monthly series do not drift after a short
// month.
func NextOccurrence(from time.Time, pattern types.RecurrencePattern, today time.Time) (time.Time, error) {
	y, m, d := from.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for steps := 1; ; steps++ {
		next, err := advance(start, pattern, steps)
		if err != nil {
			return time.Time{}, err
		}
		if next.After(today) {
			return next, nil
		}
	}
}
