package types

import "time"

// FactEvent is a resolved fact-table row. EventID is unique across the
// fact table; UserKey must resolve to a dim_users row. DateKey and
// PartitionDate are both derived from the timestamp's date component and
// are always equal. PartitionDate exists solely for incremental
// replace-by-partition loading.
type FactEvent struct {
	EventID       string
	Timestamp     time.Time
	DateKey       string
	UserKey       string
	PlatformKey   string
	EventTypeKey  string
	SessionID     string
	Country       string
	DeviceType    string
	EventCount    int64
	PartitionDate string
}

// DailyAggregate holds pre-aggregated daily metrics for one
// (date_key, platform_key) pair. Fully recomputable from facts plus the
// user dimension; never mutated independently.
type DailyAggregate struct {
	DateKey          string
	PlatformKey      string
	DAU              int64
	NewUsers         int64
	TotalEvents      int64
	TotalSessions    int64
	ContentCreates   int64
	Likes            int64
	Comments         int64
	Shares           int64
	MessagesSent     int64
	AdImpressions    int64
	AdClicks         int64
	AvgSessionEvents float64
}

// EngagementScore holds per-user L1/L7/L28 activity windows and the
// composite 0-100 engagement score for one report date. Overwritten on
// recompute.
type EngagementScore struct {
	UserKey         string
	DateKey         string
	L1Active        bool
	L7Active        bool
	L28Active       bool
	L7DaysActive    int64
	L28DaysActive   int64
	TotalEventsL7   int64
	TotalEventsL28  int64
	PlatformsUsedL7 int64
	Score           float64
}

// RetentionCohort is one cell of the weekly cohort retention matrix:
// users who signed up in CohortWeek, observed on a given platform,
// WeeksSinceSignup weeks later.
type RetentionCohort struct {
	CohortWeek       string
	PlatformKey      string
	WeeksSinceSignup int64
	CohortSize       int64
	RetainedUsers    int64
	RetentionRate    float64
}
