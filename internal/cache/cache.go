package cache

import (
	"context"
	"time"

	"dcmart/backend/internal/domain"
)

// ReportCache holds computed daily summaries so the register's report screen
// does not rescan the sales table on every refresh.
type ReportCache interface {
	GetDailySummary(ctx context.Context, key string) (*domain.DailySummary, bool, error)
	SetDailySummary(ctx context.Context, key string, value *domain.DailySummary, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetDailySummary(_ context.Context, _ string) (*domain.DailySummary, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) SetDailySummary(_ context.Context, _ string, _ *domain.DailySummary, _ time.Duration) error {
	return nil
}
