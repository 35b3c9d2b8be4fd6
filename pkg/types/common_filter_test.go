package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonFilterValidate(t *testing.T) {
	allowed := []string{"status", "created_at"}
	cases := []struct {
		name    string
		filter  CommonFilter
		wantErr bool
	}{
		{"eq ok", CommonFilter{Field: "status", Operator: CommonFilterOperatorEq, Values: []any{"pending"}}, false},
		{"unknown field", CommonFilter{Field: "password", Operator: CommonFilterOperatorEq, Values: []any{"x"}}, true},
		{"range needs two", CommonFilter{Field: "created_at", Operator: CommonFilterOperatorRange, Values: []any{1}}, true},
		{"date range ok", CommonFilter{Field: "created_at", Operator: CommonFilterOperatorDateRange, Values: []any{"2026-01-01", "2026-01-31"}}, false},
		{"missing value", CommonFilter{Field: "status", Operator: CommonFilterOperatorIn}, true},
		{"bad operator", CommonFilter{Field: "status", Operator: "like", Values: []any{"a"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.filter.Validate(allowed)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTierFromStatus(t *testing.T) {
	premium := []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}
	free := []SubscriptionStatus{
		SubscriptionStatusPastDue, SubscriptionStatusCanceled, SubscriptionStatusUnpaid,
		SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired, SubscriptionStatusPaused, "",
	}
	for _, s := range premium {
		assert.Equal(t, TierPremium, TierFromStatus(s), s)
	}
	for _, s := range free {
		assert.Equal(t, TierFree, TierFromStatus(s), s)
	}
}

func TestGameStatusTerminal(t *testing.T) {
	assert.True(t, GameStatusCancelled.Terminal())
	assert.True(t, GameStatusCompleted.Terminal())
	assert.False(t, GameStatusOpen.Terminal())
	assert.False(t, GameStatusFull.Terminal())
}
