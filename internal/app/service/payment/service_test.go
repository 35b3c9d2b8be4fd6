package payment

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/internal/testutil"
	"github.com/fatflowers/knightly/pkg/types"
)

func TestScanPaymentsRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      ScanPaymentsRequest
		wantErr  bool
		wantSize int
	}{
		{name: "defaults", req: ScanPaymentsRequest{}, wantSize: defaultPageSize},
		{name: "size capped", req: ScanPaymentsRequest{Size: 5000}, wantSize: maxPageSize},
		{name: "unknown sort column", req: ScanPaymentsRequest{SortBy: "password"}, wantErr: true},
		{
			name:    "unknown filter column",
			req:     ScanPaymentsRequest{Filters: []*types.CommonFilter{{Field: "email", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}}},
			wantErr: true,
		},
		{name: "nil filter", req: ScanPaymentsRequest{Filters: []*types.CommonFilter{nil}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, tt.req.Size)
			assert.Equal(t, "created_at", tt.req.SortBy)
		})
	}
}

func TestScanPayments(t *testing.T) {
	gdb, mock := testutil.NewMockDB(t)
	svc := NewService(gdb, testutil.NopLogger())

	mock.ExpectQuery(`SELECT count\(\*\) FROM "payments" WHERE "status" = \$1`).
		WithArgs("refunded").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE "status" = \$1 ORDER BY "amount_cents" LIMIT \$2 OFFSET \$3`).
		WithArgs("refunded", 5, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "payment_type", "amount_cents", "currency", "status"}).
			AddRow("pay-1", "user-1", "booking", 1500, "usd", "refunded"))

	res, err := svc.ScanPayments(context.Background(), &ScanPaymentsRequest{
		Filters:   []*types.CommonFilter{{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"refunded"}}},
		From:      10,
		Size:      5,
		SortBy:    "amount_cents",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, types.PaymentStatusRefunded, res.Items[0].Status)
}

func TestScanPayments_RejectsBadRequest(t *testing.T) {
	gdb, _ := testutil.NewMockDB(t)
	svc := NewService(gdb, testutil.NopLogger())

	_, err := svc.ScanPayments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
