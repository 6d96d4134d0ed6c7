package service

import (
	"context"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

// Dashboard wraps GET /dashboard/summary.
type Dashboard struct {
	api   *apiclient.Client
	cache *querycache.Client
	ttl   time.Duration
	log   *zap.Logger
}

// Summary fetches the aggregate. Each result replaces the previous one whole.
func (s *Dashboard) Summary(ctx context.Context, opts ...ReadOption) (*models.DashboardSummary, error) {
	o := applyReadOptions(opts)
	sum, err := querycache.Fetch(ctx, s.cache, cache.ScopeDashboard, "summary", s.ttl, o.fresh,
		func(ctx context.Context) (models.DashboardSummary, error) {
			var sum models.DashboardSummary
			err := s.api.Get(ctx, "/dashboard/summary", nil, &sum)
			return sum, err
		})
	if err != nil {
		return nil, fail(s.log, "dashboard summary", "Failed to fetch dashboard summary", err)
	}

	if sum.StatusCounts == nil {
		sum.StatusCounts = map[string]int{}
	}
	if sum.TypeCounts == nil {
		sum.TypeCounts = map[string]int{}
	}
	if sum.ProductCounts == nil {
		sum.ProductCounts = map[string]int{}
	}
	if sum.ExpiringSoon.PeriodDays == 0 {
		sum.ExpiringSoon.PeriodDays = models.DefaultExpiringPeriodDays
	}
	return &sum, nil
}
