package apitest

import (
	"time"

	"github.com/kiranshivaraju/licensectl/pkg/models"
)

// Summarize aggregates licenses as the dashboard endpoint does. Licenses
// expiring between now and now+periodDays count as expiring soon, unless they
// are already revoked or expired.
func Summarize(licenses []models.License, now time.Time, periodDays int) models.DashboardSummary {
	if periodDays <= 0 {
		periodDays = models.DefaultExpiringPeriodDays
	}
	windowEnd := now.Add(time.Duration(periodDays) * 24 * time.Hour)

	sum := models.DashboardSummary{
		TotalLicenses: len(licenses),
		StatusCounts:  map[string]int{},
		TypeCounts:    map[string]int{},
		ProductCounts: map[string]int{},
		ExpiringSoon:  models.ExpiringSoonSummary{PeriodDays: periodDays},
	}

	var next *models.License
	for i := range licenses {
		l := &licenses[i]
		sum.StatusCounts[string(l.Status)]++
		sum.TypeCounts[l.Type]++
		sum.ProductCounts[l.ProductName]++

		if l.ExpiresAt == nil || l.Status == models.LicenseStatusRevoked || l.Status == models.LicenseStatusExpired {
			continue
		}
		if l.ExpiresAt.Before(now) || l.ExpiresAt.After(windowEnd) {
			continue
		}
		sum.ExpiringSoon.Count++
		if next == nil || l.ExpiresAt.Before(*next.ExpiresAt) {
			next = l
		}
	}

	if next != nil {
		sum.ExpiringSoon.NextToExpire = &models.LicenseInfo{
			LicenseKey:  next.LicenseKey,
			ExpiresAt:   *next.ExpiresAt,
			ProductName: next.ProductName,
		}
	}
	return sum
}
