package tool

import (
	"time"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ShortID is a compact random id for log correlation (job runs, messages).
func ShortID() string {
	return uuid.NewString()[:8]
}

// MonthKey formats the quota accounting period of t, e.g. "2026-10".
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
