package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
)

const noResults = "No results."

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.SeparateColumns = false
	return tw
}

func statusText(s models.LicenseStatus) string {
	switch s {
	case models.LicenseStatusActive:
		return color.GreenString(string(s))
	case models.LicenseStatusInactive, models.LicenseStatusPending:
		return color.YellowString(string(s))
	case models.LicenseStatusExpired, models.LicenseStatusRevoked:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// writeLicenses renders one page of licenses. numbered adds a row column
// used to refer to rows in the browser.
func writeLicenses(w io.Writer, rows []models.License, numbered bool) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, noResults)
		return
	}

	tw := newTable()
	header := table.Row{"ID", "Key", "Status", "Type", "Product", "Customer", "Email", "Expires"}
	if numbered {
		header = append(table.Row{"#"}, header...)
	}
	tw.AppendHeader(header)
	for i, l := range rows {
		row := table.Row{
			l.ID,
			l.LicenseKey,
			statusText(l.Status),
			l.Type,
			l.ProductName,
			orDash(l.CustomerName),
			orDash(l.CustomerEmail),
			relative(l.ExpiresAt),
		}
		if numbered {
			row = append(table.Row{i + 1}, row...)
		}
		tw.AppendRow(row)
	}
	_, _ = fmt.Fprintln(w, tw.Render())
}

func writePageFooter(w io.Writer, st listquery.State, total, pageCount int) {
	if pageCount == listquery.UnknownPageCount {
		return
	}
	page := st.PageIndex + 1
	if pageCount == 0 {
		page = 0
	}
	_, _ = fmt.Fprintf(w, "Page %d of %d (%s licenses)\n", page, pageCount, humanize.Comma(int64(total)))
}

func writeLicense(w io.Writer, l models.License) {
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", l.ID},
		{"Key", l.LicenseKey},
		{"Status", statusText(l.Status)},
		{"Type", l.Type},
		{"Product", l.ProductName},
		{"Customer", orDash(l.CustomerName)},
		{"Email", orDash(l.CustomerEmail)},
		{"Expires", relative(l.ExpiresAt)},
	})
	if l.HasMetadata() {
		tw.AppendRow(table.Row{"Metadata", string(l.Metadata)})
	}
	_, _ = fmt.Fprintln(w, tw.Render())
}

func writeAPIKeys(w io.Writer, keys []models.APIKey) {
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(w, noResults)
		return
	}

	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Prefix", "Description", "Enabled", "Created", "Last used"})
	for _, k := range keys {
		enabled := color.GreenString("yes")
		if !k.IsEnabled {
			enabled = color.RedString("revoked")
		}
		created := k.CreatedAt
		tw.AppendRow(table.Row{k.ID, k.Prefix, k.Description, enabled, relative(&created), relative(k.LastUsedAt)})
	}
	_, _ = fmt.Fprintln(w, tw.Render())
}

func writeDashboard(w io.Writer, sum *models.DashboardSummary) {
	_, _ = fmt.Fprintf(w, "Total licenses: %s\n", humanize.Comma(int64(sum.TotalLicenses)))
	_, _ = fmt.Fprintf(w, "Expiring in the next %d days: %d\n", sum.ExpiringSoon.PeriodDays, sum.ExpiringSoon.Count)
	if next := sum.ExpiringSoon.NextToExpire; next != nil {
		_, _ = fmt.Fprintf(w, "Next to expire: %s (%s) %s\n", next.LicenseKey, next.ProductName, humanize.Time(next.ExpiresAt))
	}

	writeSeries(w, "Status", sum.StatusSeries())
	writeSeries(w, "Type", sum.TypeSeries())
	writeSeries(w, "Product", sum.ProductSeries())
}

func writeSeries(w io.Writer, title string, points []models.DataPoint) {
	_, _ = fmt.Fprintln(w)
	if len(points) == 0 {
		_, _ = fmt.Fprintf(w, "%s: %s\n", title, noResults)
		return
	}

	peak := 0
	for _, p := range points {
		if p.Value > peak {
			peak = p.Value
		}
	}

	tw := newTable()
	tw.SetTitle(title)
	for _, p := range points {
		tw.AppendRow(table.Row{p.Label, p.Value, bar(p.Value, peak)})
	}
	_, _ = fmt.Fprintln(w, tw.Render())
}

func bar(v, peak int) string {
	const width = 30
	if peak == 0 {
		return ""
	}
	return strings.Repeat("█", v*width/peak)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
