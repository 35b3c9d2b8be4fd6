package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

type StatisticType string

const (
	// Revenue ledger
	StatisticTypeDailyRevenue              StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue              StatisticType = "total_revenue"
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
	StatisticTypeDailyRenewalCount         StatisticType = "daily_renewal_count"

	// Platform subscriptions
	StatisticTypeDailyPremiumCount StatisticType = "daily_premium_count"
	StatisticTypeTotalPremiumCount StatisticType = "total_premium_count"
)

// StatisticFilterType names filters that only some statistics understand.
type StatisticFilterType string

const (
	StatisticFilterTypeKind     StatisticFilterType = "kind"
	StatisticFilterTypeCurrency StatisticFilterType = "currency"
)

var filterTypes = []StatisticFilterType{
	StatisticFilterTypeKind,
	StatisticFilterTypeCurrency,
}

var ledgerStatistics = []StatisticType{
	StatisticTypeDailyRevenue,
	StatisticTypeDailyNewSubscriptionCount,
	StatisticTypeDailyRenewalCount,
}

var validFilters = map[StatisticFilterType][]StatisticType{
	StatisticFilterTypeKind:     ledgerStatistics,
	StatisticFilterTypeCurrency: ledgerStatistics,
}

// filterColumns are the ledger columns an admin may filter on.
var filterColumns = []string{"kind", "currency", "paid_at", "user_id", "author_id"}

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items"`
}

// Validate checks filters against the ledger columns.
func (f *StatisticRequest) Validate() error {
	if len(f.DataItems) == 0 {
		return fmt.Errorf("data_items is required")
	}
	for _, filter := range f.Filters {
		if err := filter.Validate(filterColumns); err != nil {
			return err
		}
	}
	return nil
}

// GetFilters keeps the filters applicable to statisticType.
func (f *StatisticRequest) GetFilters(statisticType StatisticType) *StatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result StatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[StatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// Build composes the WHERE clause of the request filters.
func (f *StatisticRequest) Build(builder clause.Builder) {
	if f == nil || len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		filter.Build(builder)
	}
}

type StatisticResponseDataItem struct {
	Date   string `json:"date"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	batchSize int
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, batchSize: 500}
}

func snapshotOf(sub *models.Subscription, snapshotDate time.Time, now time.Time) *models.SubscriptionDailySnapshot {
	return &models.SubscriptionDailySnapshot{
		ID:                tool.GenerateUUIDV7(),
		UserID:            sub.UserID,
		Tier:              sub.Tier,
		Status:            sub.Status,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		SnapshotDate:      snapshotDate.Format(time.DateOnly),
		SnapshotCreatedAt: now,
	}
}

// SaveSubscriptionDailySnapshot persists one user's state for snapshotDate.
// A second save for the same day is a no-op.
func (s *Service) SaveSubscriptionDailySnapshot(ctx context.Context, subscription *models.Subscription, snapshotDate time.Time) error {
	if subscription == nil {
		return fmt.Errorf("nil subscription")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(snapshotOf(subscription, snapshotDate, time.Now())).Error
}

// SnapshotSubscriptions copies every subscription row into the daily
// snapshot table for snapshotDate and returns the number of new rows.
func (s *Service) SnapshotSubscriptions(ctx context.Context, snapshotDate time.Time) (int64, error) {
	var (
		created int64
		batch   []*models.Subscription
	)
	now := time.Now()
	res := s.db.WithContext(ctx).FindInBatches(&batch, s.batchSize, func(tx *gorm.DB, _ int) error {
		snaps := lo.Map(batch, func(sub *models.Subscription, _ int) *models.SubscriptionDailySnapshot {
			return snapshotOf(sub, snapshotDate, now)
		})
		ins := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&snaps)
		if ins.Error != nil {
			return fmt.Errorf("failed to save snapshots: %w", ins.Error)
		}
		created += ins.RowsAffected
		return nil
	})
	if res.Error != nil {
		return created, fmt.Errorf("failed to snapshot subscriptions: %w", res.Error)
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription snapshot saved", "snapshot_date", snapshotDate.Format(time.DateOnly), "created", created)
	return created, nil
}

func (s *Service) ledger(ctx context.Context, request *StatisticRequest, statisticType StatisticType) *gorm.DB {
	return s.db.WithContext(ctx).Table((models.SubscriptionPayment{}).TableName()).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(statisticType)}})
}

func (s *Service) getDailyRevenue(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.ledger(ctx, request, StatisticTypeDailyRevenue).
		Select("TO_CHAR(paid_at, 'YYYY-MM-DD') as date, currency AS label, sum(amount_cents) as value, count(*) as value2").
		Group("TO_CHAR(paid_at, 'YYYY-MM-DD')").
		Group("currency").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyCountByReason(ctx context.Context, request *StatisticRequest, statisticType StatisticType, reason types.LedgerReason) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.ledger(ctx, request, statisticType).
		Select("TO_CHAR(paid_at, 'YYYY-MM-DD') as date, count(*) as value").
		Where("reason = ?", reason).
		Group("TO_CHAR(paid_at, 'YYYY-MM-DD')").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalRevenue(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH min_max_dates AS (
    SELECT MIN(DATE(paid_at)) as min_date, MAX(DATE(paid_at)) as max_date
    FROM subscription_payments
),
distinct_dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval) as date FROM min_max_dates
),
dates AS (
    SELECT TO_CHAR(date, 'YYYY-MM-DD') as date FROM distinct_dates
),
currencies AS (
    SELECT DISTINCT currency as label FROM subscription_payments
),
date_currency_combinations AS (
    SELECT d.date, c.label FROM dates d CROSS JOIN currencies c
),
revenue_date AS (
    SELECT dc.date, dc.label, COALESCE(SUM(p.amount_cents), 0) as value
    FROM date_currency_combinations dc
    LEFT JOIN subscription_payments p
      ON TO_CHAR(p.paid_at, 'YYYY-MM-DD') = dc.date
     AND p.currency = dc.label
    GROUP BY dc.date, dc.label
)
SELECT d.date as date, d.label as label, SUM(s.value) as value
FROM revenue_date d
LEFT JOIN revenue_date s ON s.date <= d.date AND s.label = d.label
GROUP BY d.date, d.label
ORDER BY d.date DESC, d.label ASC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyPremiumCount(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SubscriptionDailySnapshot{}).TableName()).
		Select("snapshot_date as date, count(*) as value").
		Where("tier = ?", types.TierPremium).
		Group("snapshot_date").
		Order("snapshot_date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalPremiumCount(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("count(*) as value").
		Where("tier = ?", types.TierPremium)
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, dataItem *StatisticDataItem) ([]StatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeTotalRevenue:
		return s.getTotalRevenue(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyCountByReason(ctx, request, dataItem.ID, types.LedgerReasonInitialSubscription)
	case StatisticTypeDailyRenewalCount:
		return s.getDailyCountByReason(ctx, request, dataItem.ID, types.LedgerReasonRenewal)
	case StatisticTypeDailyPremiumCount:
		return s.getDailyPremiumCount(ctx, request)
	case StatisticTypeTotalPremiumCount:
		return s.getTotalPremiumCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetDailyStatistic computes the requested data items concurrently.
func (s *Service) GetDailyStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []StatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *StatisticDataItem) {
			defer wg.Done()
			// a filter this statistic cannot honour yields no data rather than unfiltered data
			for _, filter := range request.Filters {
				ft := StatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]StatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &StatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
