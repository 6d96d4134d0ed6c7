package apitest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/licensectl/pkg/models"
)

var (
	demoProducts = []string{"Atlas", "Beacon", "Compass", "Drift"}
	demoTypes    = []string{"trial", "standard", "enterprise"}
	demoStatuses = []models.LicenseStatus{
		models.LicenseStatusActive,
		models.LicenseStatusActive,
		models.LicenseStatusInactive,
		models.LicenseStatusPending,
		models.LicenseStatusActive,
		models.LicenseStatusExpired,
		models.LicenseStatusRevoked,
	}
)

// SeedDemo adds n licenses spread over products, types and statuses. The
// data depends only on n and the store clock. Some licenses expire within
// the dashboard window, some have no expiry and some lack customer details.
func (s *Store) SeedDemo(n int) []models.License {
	now := s.now().UTC()
	out := make([]models.License, 0, n)
	for i := 0; i < n; i++ {
		l := models.License{
			Status:      demoStatuses[i%len(demoStatuses)],
			Type:        demoTypes[i%len(demoTypes)],
			ProductName: demoProducts[i%len(demoProducts)],
			CreatedAt:   now.Add(-time.Duration(n-i) * time.Hour),
		}
		if i%5 != 4 {
			name := fmt.Sprintf("Customer %02d", i+1)
			email := fmt.Sprintf("customer%02d@example.com", i+1)
			l.CustomerName = &name
			l.CustomerEmail = &email
		}
		if i%3 != 2 {
			exp := now.Add(time.Duration(i*4+3) * 24 * time.Hour)
			if l.Status == models.LicenseStatusExpired {
				exp = now.Add(-time.Duration(i+1) * 24 * time.Hour)
			}
			l.ExpiresAt = &exp
		}
		if i%4 == 0 {
			l.Metadata, _ = json.Marshal(map[string]any{"seats": 5 * (i + 1)})
		}
		issued := l.CreatedAt
		l.IssuedAt = &issued
		out = append(out, s.SeedLicense(l))
	}
	return out
}
