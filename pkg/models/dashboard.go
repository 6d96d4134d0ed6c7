package models

import (
	"sort"
	"strings"
	"time"
)

// DefaultExpiringPeriodDays is the window used by the dashboard when the
// server does not report one.
const DefaultExpiringPeriodDays = 30

// LicenseInfo identifies a single license in dashboard aggregates.
type LicenseInfo struct {
	LicenseKey  string    `json:"licenseKey"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ProductName string    `json:"productName"`
}

// ExpiringSoonSummary counts licenses expiring inside the rolling window and
// points at the one expiring first.
type ExpiringSoonSummary struct {
	Count        int          `json:"count"`
	PeriodDays   int          `json:"periodDays"`
	NextToExpire *LicenseInfo `json:"nextToExpire,omitempty"`
}

// DashboardSummary is the read-only aggregate behind the dashboard. It is
// replaced wholesale on every fetch.
type DashboardSummary struct {
	TotalLicenses int                 `json:"totalLicenses"`
	StatusCounts  map[string]int      `json:"statusCounts"`
	TypeCounts    map[string]int      `json:"typeCounts"`
	ProductCounts map[string]int      `json:"productCounts"`
	ExpiringSoon  ExpiringSoonSummary `json:"expiringSoon"`
}

// DataPoint is a single bar or slice of a dashboard chart.
type DataPoint struct {
	Name  string
	Label string
	Value int
}

func (s DashboardSummary) StatusSeries() []DataPoint {
	return series(s.StatusCounts, capitalize)
}

func (s DashboardSummary) TypeSeries() []DataPoint {
	return series(s.TypeCounts, nil)
}

func (s DashboardSummary) ProductSeries() []DataPoint {
	return series(s.ProductCounts, nil)
}

func series(counts map[string]int, label func(string) string) []DataPoint {
	points := make([]DataPoint, 0, len(counts))
	for name, v := range counts {
		l := name
		if label != nil {
			l = label(name)
		}
		points = append(points, DataPoint{Name: name, Label: l, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
