// Package warehouse owns the star-schema dimensional model in the embedded
// SQLite warehouse. The warehouse database file is attached under the
// `analytics` alias so every table keeps its contract-qualified name
// (analytics.dim_users, analytics.fct_events, ...).
package warehouse

// Schema contains the DDL for the analytics star schema. All statements
// are idempotent (IF NOT EXISTS) so schema initialization can run on every
// pipeline start without existence pre-checks or error suppression.

// CreateDimUsersSQL creates the user dimension in SCD type 2 shape.
// user_key is the deterministic surrogate; is_current is always 1 in the
// single-version regime the pipeline currently runs.
const CreateDimUsersSQL = `
CREATE TABLE IF NOT EXISTS analytics.dim_users (
    user_key TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    country TEXT,
    age_group TEXT,
    device_type TEXT,
    user_segment TEXT,
    signup_date TEXT NOT NULL,
    primary_platform TEXT,
    effective_from TEXT NOT NULL,
    effective_to TEXT,
    is_current INTEGER NOT NULL DEFAULT 1
)`

// CreateDimPlatformSQL creates the static platform dimension.
const CreateDimPlatformSQL = `
CREATE TABLE IF NOT EXISTS analytics.dim_platform (
    platform_key TEXT PRIMARY KEY,
    platform_name TEXT NOT NULL,
    app_family TEXT NOT NULL
)`

// CreateDimEventTypeSQL creates the static event-type dimension.
const CreateDimEventTypeSQL = `
CREATE TABLE IF NOT EXISTS analytics.dim_event_type (
    event_type_key TEXT PRIMARY KEY,
    event_category TEXT NOT NULL
)`

// CreateDimDateSQL creates the calendar dimension.
const CreateDimDateSQL = `
CREATE TABLE IF NOT EXISTS analytics.dim_date (
    date_key TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    day INTEGER NOT NULL,
    day_of_week INTEGER NOT NULL,
    week_of_year INTEGER NOT NULL,
    is_weekend INTEGER NOT NULL
)`

// CreateFctEventsSQL creates the event fact table. _partition_date exists
// solely for incremental replace-by-partition loading and always equals
// date_key.
const CreateFctEventsSQL = `
CREATE TABLE IF NOT EXISTS analytics.fct_events (
    event_id TEXT PRIMARY KEY,
    event_timestamp TEXT NOT NULL,
    date_key TEXT NOT NULL,
    user_key TEXT NOT NULL,
    platform_key TEXT NOT NULL,
    event_type_key TEXT NOT NULL,
    session_id TEXT,
    country TEXT,
    device_type TEXT,
    event_count INTEGER NOT NULL DEFAULT 1,
    _partition_date TEXT NOT NULL
)`

// CreateFctEventsIndexesSQL creates indexes for the fact access paths:
// partition replacement, date grouping, and per-user windows. SQLite puts
// the schema qualifier of an attached database on the index name, not the
// table.
var CreateFctEventsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS analytics.idx_fct_events_partition ON fct_events(_partition_date)`,
	`CREATE INDEX IF NOT EXISTS analytics.idx_fct_events_date ON fct_events(date_key)`,
	`CREATE INDEX IF NOT EXISTS analytics.idx_fct_events_user ON fct_events(user_key, date_key)`,
}

// CreateAggDailyMetricsSQL creates the daily aggregate table.
const CreateAggDailyMetricsSQL = `
CREATE TABLE IF NOT EXISTS analytics.agg_daily_metrics (
    date_key TEXT NOT NULL,
    platform_key TEXT NOT NULL,
    dau INTEGER NOT NULL,
    new_users INTEGER NOT NULL,
    total_events INTEGER NOT NULL,
    total_sessions INTEGER NOT NULL,
    content_creates INTEGER NOT NULL,
    likes INTEGER NOT NULL,
    comments INTEGER NOT NULL,
    shares INTEGER NOT NULL,
    messages_sent INTEGER NOT NULL,
    ad_impressions INTEGER NOT NULL,
    ad_clicks INTEGER NOT NULL,
    avg_session_events REAL NOT NULL,
    PRIMARY KEY (date_key, platform_key)
)`

// CreateAggUserEngagementSQL creates the per-user engagement table.
const CreateAggUserEngagementSQL = `
CREATE TABLE IF NOT EXISTS analytics.agg_user_engagement (
    user_key TEXT NOT NULL,
    date_key TEXT NOT NULL,
    l1_active INTEGER NOT NULL,
    l7_active INTEGER NOT NULL,
    l28_active INTEGER NOT NULL,
    l7_days_active INTEGER NOT NULL,
    l28_days_active INTEGER NOT NULL,
    total_events_l7 INTEGER NOT NULL,
    total_events_l28 INTEGER NOT NULL,
    platforms_used_l7 INTEGER NOT NULL,
    engagement_score REAL NOT NULL,
    PRIMARY KEY (user_key, date_key)
)`

// CreateAggRetentionCohortsSQL creates the weekly cohort retention table.
const CreateAggRetentionCohortsSQL = `
CREATE TABLE IF NOT EXISTS analytics.agg_retention_cohorts (
    cohort_week TEXT NOT NULL,
    platform_key TEXT NOT NULL,
    weeks_since_signup INTEGER NOT NULL,
    cohort_size INTEGER NOT NULL,
    retained_users INTEGER NOT NULL,
    retention_rate REAL NOT NULL,
    PRIMARY KEY (cohort_week, platform_key, weeks_since_signup)
)`

// AnalyticsTables lists every table under the analytics namespace, in
// reporting order. TableStats and the loader validate table names against
// this list.
var AnalyticsTables = []string{
	"dim_users",
	"dim_platform",
	"dim_event_type",
	"dim_date",
	"fct_events",
	"agg_daily_metrics",
	"agg_user_engagement",
	"agg_retention_cohorts",
}

// AllSchemaSQL returns all DDL statements needed to initialize the
// analytics schema.
func AllSchemaSQL() []string {
	statements := []string{
		CreateDimUsersSQL,
		CreateDimPlatformSQL,
		CreateDimEventTypeSQL,
		CreateDimDateSQL,
		CreateFctEventsSQL,
		CreateAggDailyMetricsSQL,
		CreateAggUserEngagementSQL,
		CreateAggRetentionCohortsSQL,
	}
	statements = append(statements, CreateFctEventsIndexesSQL...)
	return statements
}
