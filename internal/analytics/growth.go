// Package analytics is a read-only query layer over the warehouse for
// growth and retention reporting. All queries are parameterized; no
// caller input reaches SQL as an identifier.
package analytics

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/warehouse"
)

// Growth answers DAU accounting questions from the fact table.
type Growth struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewGrowth creates a growth reader over an open warehouse.
func NewGrowth(w *warehouse.Warehouse, log *logrus.Logger) *Growth {
	return &Growth{db: w.DB(), log: log}
}

// GrowthRow is one day/platform cell of the growth accounting report.
// Active = New + Retained + Resurrected.
type GrowthRow struct {
	DateKey     string  `json:"date_key"`
	PlatformKey string  `json:"platform_key"`
	Active      int64   `json:"active"`
	New         int64   `json:"new"`
	Retained    int64   `json:"retained"`
	Resurrected int64   `json:"resurrected"`
	Churned     int64   `json:"churned"`
	QuickRatio  float64 `json:"quick_ratio"`
}

const growthAccountingSQL = `
WITH activity AS (
    SELECT DISTINCT date_key, platform_key, user_key
    FROM analytics.fct_events
),
firsts AS (
    SELECT platform_key, user_key, MIN(date_key) AS first_date
    FROM activity
    GROUP BY platform_key, user_key
),
classified AS (
    SELECT a.date_key, a.platform_key, a.user_key,
        CASE
            WHEN a.date_key = f.first_date THEN 'new'
            WHEN EXISTS (
                SELECT 1 FROM activity p
                WHERE p.user_key = a.user_key
                  AND p.platform_key = a.platform_key
                  AND p.date_key = date(a.date_key, '-1 day')
            ) THEN 'retained'
            ELSE 'resurrected'
        END AS kind
    FROM activity a
    JOIN firsts f ON f.platform_key = a.platform_key AND f.user_key = a.user_key
),
churn AS (
    SELECT date(p.date_key, '+1 day') AS date_key, p.platform_key,
           COUNT(*) AS churned
    FROM activity p
    WHERE NOT EXISTS (
        SELECT 1 FROM activity a
        WHERE a.user_key = p.user_key
          AND a.platform_key = p.platform_key
          AND a.date_key = date(p.date_key, '+1 day')
    )
    GROUP BY 1, 2
)
SELECT c.date_key, c.platform_key,
       COUNT(*) AS active,
       SUM(c.kind = 'new') AS new_users,
       SUM(c.kind = 'retained') AS retained,
       SUM(c.kind = 'resurrected') AS resurrected,
       COALESCE(ch.churned, 0) AS churned
FROM classified c
LEFT JOIN churn ch ON ch.date_key = c.date_key AND ch.platform_key = c.platform_key
WHERE c.date_key >= ? AND c.date_key <= ?
GROUP BY c.date_key, c.platform_key
ORDER BY c.date_key, c.platform_key`

// GrowthAccounting classifies every active (day, platform, user) cell as
// new, retained, or resurrected, with the day's churn from the prior
// day. First-activity dates consider the whole fact history, not just
// the requested range.
func (g *Growth) GrowthAccounting(ctx context.Context, startDate, endDate string) ([]GrowthRow, error) {
	rows, err := g.db.QueryContext(ctx, growthAccountingSQL, startDate, endDate)
	if err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "growth accounting query", err)
	}
	defer rows.Close()

	var out []GrowthRow
	for rows.Next() {
		var r GrowthRow
		if err := rows.Scan(&r.DateKey, &r.PlatformKey, &r.Active,
			&r.New, &r.Retained, &r.Resurrected, &r.Churned); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan growth row", err)
		}
		r.QuickRatio = quickRatio(r.New, r.Resurrected, r.Churned)
		out = append(out, r)
	}
	return out, rows.Err()
}

// QuickRatio returns (new + resurrected) / churned per day, summed over
// platforms. Days without churn report the raw gain as the ratio.
func (g *Growth) QuickRatio(ctx context.Context, startDate, endDate string) (map[string]float64, error) {
	rows, err := g.GrowthAccounting(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	type tally struct{ gained, churned int64 }
	byDate := make(map[string]*tally)
	for _, r := range rows {
		t, ok := byDate[r.DateKey]
		if !ok {
			t = &tally{}
			byDate[r.DateKey] = t
		}
		t.gained += r.New + r.Resurrected
		t.churned += r.Churned
	}

	ratios := make(map[string]float64, len(byDate))
	for date, t := range byDate {
		ratios[date] = quickRatio(t.gained, 0, t.churned)
	}
	return ratios, nil
}

func quickRatio(newUsers, resurrected, churned int64) float64 {
	gained := float64(newUsers + resurrected)
	if churned == 0 {
		return gained
	}
	return gained / float64(churned)
}

// FunnelStage is one step of the engagement funnel for a day.
type FunnelStage struct {
	Stage          string  `json:"stage"`
	EventType      string  `json:"event_type"`
	Users          int64   `json:"users"`
	ConversionRate float64 `json:"conversion_rate"`
}

// funnelStages is the fixed engagement funnel, ordered from entry to
// deepest action.
var funnelStages = []struct{ stage, eventType string }{
	{"opened", "app_open"},
	{"viewed", "content_view"},
	{"engaged", "like"},
	{"created", "content_create"},
	{"shared", "share"},
}

// FunnelAnalysis counts distinct users reaching each funnel stage on a
// date. Conversion rates are relative to the entry stage; an empty entry
// stage yields zero rates throughout.
func (g *Growth) FunnelAnalysis(ctx context.Context, date string) ([]FunnelStage, error) {
	const q = `SELECT COUNT(DISTINCT user_key) FROM analytics.fct_events
	           WHERE date_key = ? AND event_type_key = ?`

	out := make([]FunnelStage, 0, len(funnelStages))
	var entry int64
	for i, s := range funnelStages {
		var users int64
		if err := g.db.QueryRowContext(ctx, q, date, s.eventType).Scan(&users); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "funnel stage query", err)
		}
		if i == 0 {
			entry = users
		}
		rate := 0.0
		if entry > 0 {
			rate = float64(users) / float64(entry)
		}
		out = append(out, FunnelStage{
			Stage:          s.stage,
			EventType:      s.eventType,
			Users:          users,
			ConversionRate: rate,
		})
	}
	return out, nil
}

// DemographicRow is one slice of a day's active users along a user
// dimension attribute.
type DemographicRow struct {
	Dimension   string `json:"dimension"`
	Value       string `json:"value"`
	ActiveUsers int64  `json:"active_users"`
	Events      int64  `json:"events"`
}

// DemographicBreakdown slices a day's activity by country, age group,
// and device type from the user dimension.
func (g *Growth) DemographicBreakdown(ctx context.Context, date string) ([]DemographicRow, error) {
	// Attribute columns come from this fixed list, never from input.
	attrs := []string{"country", "age_group", "device_type"}

	var out []DemographicRow
	for _, attr := range attrs {
		q := `SELECT COALESCE(d.` + attr + `, 'unknown'),
		             COUNT(DISTINCT f.user_key), SUM(f.event_count)
		      FROM analytics.fct_events f
		      JOIN analytics.dim_users d ON d.user_key = f.user_key
		      WHERE f.date_key = ?
		      GROUP BY 1 ORDER BY 2 DESC`
		rows, err := g.db.QueryContext(ctx, q, date)
		if err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "demographic query", err)
		}
		for rows.Next() {
			r := DemographicRow{Dimension: attr}
			if err := rows.Scan(&r.Value, &r.ActiveUsers, &r.Events); err != nil {
				rows.Close()
				return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan demographic row", err)
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}
