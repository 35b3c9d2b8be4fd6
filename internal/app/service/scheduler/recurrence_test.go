package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/pkg/types"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name    string
		from    time.Time
		pattern types.RecurrencePattern
		today   time.Time
		want    time.Time
	}{
		{"weekly from the past", day(2026, 10, 5), types.RecurrenceWeekly, day(2026, 10, 14), day(2026, 10, 19)},
		{"weekly on the slot day moves on", day(2026, 10, 5), types.RecurrenceWeekly, day(2026, 10, 19), day(2026, 10, 26)},
		{"future template still advances", day(2026, 10, 20), types.RecurrenceWeekly, day(2026, 10, 14), day(2026, 10, 27)},
		{"biweekly", day(2026, 9, 1), types.RecurrenceBiweekly, day(2026, 10, 14), day(2026, 10, 27)},
		{"monthly", day(2026, 8, 14), types.RecurrenceMonthly, day(2026, 10, 14), day(2026, 11, 14)},
		{"monthly from the 31st normalizes", day(2026, 1, 31), types.RecurrenceMonthly, day(2026, 2, 10), day(2026, 3, 3)},
		{"monthly does not drift", day(2026, 1, 31), types.RecurrenceMonthly, day(2026, 3, 5), day(2026, 3, 31)},
		{"time of day is ignored", time.Date(2026, 10, 5, 18, 0, 0, 0, time.UTC), types.RecurrenceWeekly, day(2026, 10, 14), day(2026, 10, 19)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.from, tt.pattern, tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.today))
		})
	}
}

func TestNextOccurrence_UnknownPattern(t *testing.T) {
	_, err := NextOccurrence(day(2026, 10, 5), "daily", day(2026, 10, 14))
	assert.ErrorIs(t, err, ErrUnknownRecurrencePattern)
}

func TestDateOf(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	late := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, day(2026, 10, 14), dateOf(late, time.UTC))
	assert.Equal(t, day(2026, 10, 15), dateOf(late, tokyo))
}
