package tool

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDV7(t *testing.T) {
	id, err := uuid.Parse(GenerateUUIDV7())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Len(t, ShortID(), 8)
}

func TestDateHelpers(t *testing.T) {
	ts := time.Date(2026, 2, 3, 17, 45, 12, 9, time.UTC)
	assert.Equal(t, "2026-02", MonthKey(ts))
	assert.Equal(t, time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
}
