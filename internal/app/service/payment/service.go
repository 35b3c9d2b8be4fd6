package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/pkg/types"
)

const (
	defaultPageSize = 10
	maxPageSize     = 200
)

var ErrInvalidRequest = errors.New("invalid payment scan request")

// Columns a listing may filter or sort on.
var scanColumns = []string{
	"id", "user_id", "payment_type", "reference_id", "status", "currency", "amount_cents",
	"stripe_checkout_session_id", "stripe_payment_intent_id", "paid_at", "refunded_at", "created_at",
}

// PaymentManager is the admin read side of one-time payments.
type PaymentManager interface {
	ScanPayments(ctx context.Context, req *ScanPaymentsRequest) (*ScanPaymentsResponse, error)
}

type ScanPaymentsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// Validate checks filter and sort columns and normalizes paging.
func (r *ScanPaymentsRequest) Validate() error {
	for _, f := range r.Filters {
		if f == nil {
			return fmt.Errorf("%w: empty filter", ErrInvalidRequest)
		}
		if err := f.Validate(scanColumns); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if r.SortBy == "" {
		r.SortBy = "created_at"
	}
	if !lo.Contains(scanColumns, r.SortBy) {
		return fmt.Errorf("%w: cannot sort by %s", ErrInvalidRequest, r.SortBy)
	}
	if r.Size <= 0 {
		r.Size = defaultPageSize
	}
	r.Size = min(r.Size, maxPageSize)
	r.From = max(r.From, 0)
	return nil
}

type ScanPaymentsResponse struct {
	Items []*models.Payment `json:"items"`
	Total int64             `json:"total"`
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) PaymentManager {
	return &Service{db: db, log: log}
}

// ScanPayments implements paginated admin listing with filters.
func (s *Service) ScanPayments(ctx context.Context, req *ScanPaymentsRequest) (*ScanPaymentsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scope := func() *gorm.DB {
		tx := s.db.WithContext(ctx).Model(&models.Payment{})
		if len(req.Filters) > 0 {
			tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
		}
		return tx
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	var rows []*models.Payment
	q := scope().
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}}).
		Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return &ScanPaymentsResponse{Items: rows, Total: total}, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
