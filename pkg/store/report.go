package store

import (
	"context"
	"time"

	"vapidispatch/pkg/apperr"
)

// SiteSummary is one row of the per-site progress report.
type SiteSummary struct {
	SiteID   string `json:"site_id"`
	SiteName string `json:"site_name"`
	Updates  int64  `json:"updates"`
	Urgent   int64  `json:"urgent"`
	Safety   int64  `json:"safety"`
	Delays   int64  `json:"delays"`
	WetDays  int64  `json:"wet_weather_days"`
	Failed   int64  `json:"failed"`
}

// MonthRange parses YYYY-MM into a half-open [start, end) range in UTC.
func MonthRange(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("Month must look like 2026-03.", err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// SiteSummaries counts the tenant's updates per site whose update_date falls
// in [from, to).
func (r *Repository) SiteSummaries(ctx context.Context, tenantID string, from, to time.Time) ([]SiteSummary, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var out []SiteSummary
	err := r.db.WithContext(ctx).Raw(`
		SELECT e.id AS site_id, e.name AS site_name,
		       COUNT(*) AS updates,
		       COUNT(*) FILTER (WHERE u.has_urgent_issues) AS urgent,
		       COUNT(*) FILTER (WHERE u.has_safety_concerns) AS safety,
		       COUNT(*) FILTER (WHERE u.has_delays) AS delays,
		       COUNT(DISTINCT u.update_date) FILTER (WHERE u.is_wet_weather_closure) AS wet_days,
		       COUNT(*) FILTER (WHERE u.processing_status = 'failed') AS failed
		FROM site_progress_updates u
		JOIN entities e ON e.id = u.site_id AND e.tenant_id = u.tenant_id
		WHERE u.tenant_id = ? AND u.update_date >= ? AND u.update_date < ?
		GROUP BY e.id, e.name
		ORDER BY e.name`, tenantID, from, to).Scan(&out).Error
	if err != nil {
		return nil, classify("site summaries", err, "")
	}
	return out, nil
}
