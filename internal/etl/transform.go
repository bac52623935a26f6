// Package etl implements the transform and load stages of the analytics
// pipeline: cleansing, dimension and fact construction, aggregate
// computation, and warehouse loading.
package etl

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/pkg/types"
)

// CleanReport itemizes what CleanEvents rejected. Rejections are counted
// and logged, never fatal: a bad row degrades into this report while the
// run continues.
type CleanReport struct {
	Input             int `json:"input"`
	Output            int `json:"output"`
	Duplicates        int `json:"duplicates"`
	NullKeys          int `json:"null_keys"`
	BadTimestamps     int `json:"bad_timestamps"`
	UnknownEventTypes int `json:"unknown_event_types"`
	FutureEvents      int `json:"future_events"`
}

// Dropped returns the total number of rejected rows.
func (r CleanReport) Dropped() int {
	return r.Duplicates + r.NullKeys + r.BadTimestamps + r.UnknownEventTypes + r.FutureEvents
}

// Transformer turns raw lake records into warehouse-ready dimensional
// structures. All methods are pure over their inputs; the injected clock
// exists only for the future-event guard.
type Transformer struct {
	log *logrus.Logger
	now func() time.Time
}

// NewTransformer creates a transformer using the wall clock.
func NewTransformer(log *logrus.Logger) *Transformer {
	return &Transformer{log: log, now: time.Now}
}

// NewTransformerWithClock creates a transformer with a fixed clock.
// Used by tests to pin the future-event guard.
func NewTransformerWithClock(log *logrus.Logger, now func() time.Time) *Transformer {
	return &Transformer{log: log, now: now}
}

// CleanEvents validates and cleans raw event data. Steps, in order:
// deduplicate by event_id (first occurrence wins), drop rows with empty
// event_id or user_id, coerce timestamps (dropping unparseable rows),
// drop event types outside the allow-list, and drop events stamped later
// than now (clock-skew guard). The function is idempotent: cleaning an
// already-clean batch changes nothing.
func (t *Transformer) CleanEvents(raw []types.RawEvent) ([]types.Event, CleanReport) {
	report := CleanReport{Input: len(raw)}
	now := t.now().UTC()

	seen := make(map[string]struct{}, len(raw))
	events := make([]types.Event, 0, len(raw))

	for _, r := range raw {
		// Dedupe precedes the key guard: a later copy of an event never
		// resurrects an event_id whose first occurrence was rejected.
		if _, dup := seen[r.EventID]; dup {
			report.Duplicates++
			continue
		}
		seen[r.EventID] = struct{}{}

		if r.EventID == "" || r.UserID == "" {
			report.NullKeys++
			continue
		}

		ts, ok := types.ParseEventTimestamp(r.EventTimestamp)
		if !ok {
			report.BadTimestamps++
			continue
		}
		if !types.ValidEventType(r.EventType) {
			report.UnknownEventTypes++
			continue
		}
		if ts.After(now) {
			report.FutureEvents++
			continue
		}

		events = append(events, types.Event{
			EventID:    r.EventID,
			UserID:     r.UserID,
			EventType:  r.EventType,
			Platform:   r.Platform,
			Timestamp:  ts,
			Country:    r.Country,
			DeviceType: r.DeviceType,
			SessionID:  r.SessionID,
		})
	}

	report.Output = len(events)
	if report.Dropped() > 0 {
		t.log.WithFields(logrus.Fields{
			"input":      report.Input,
			"output":     report.Output,
			"duplicates": report.Duplicates,
			"null_keys":  report.NullKeys,
			"bad_ts":     report.BadTimestamps,
			"unknown":    report.UnknownEventTypes,
			"future":     report.FutureEvents,
		}).Warn("event cleaning dropped rows")
	} else {
		t.log.WithField("events", report.Output).Info("event cleaning complete")
	}
	return events, report
}

// BuildUserDimension transforms raw users into the SCD type 2 dimension
// shape. Surrogate keys are deterministic, so rebuilding the dimension
// never reassigns a user's key. Every row is current; effective_to is
// left open.
func (t *Transformer) BuildUserDimension(users []types.RawUser) []types.DimUser {
	dim := make([]types.DimUser, 0, len(users))
	for _, u := range users {
		dim = append(dim, types.DimUser{
			UserKey:         types.UserKey(u.UserID),
			UserID:          u.UserID,
			Country:         u.Country,
			AgeGroup:        u.AgeGroup,
			DeviceType:      u.DeviceType,
			UserSegment:     u.UserSegment,
			SignupDate:      u.SignupDate,
			PrimaryPlatform: u.PrimaryPlatform,
			EffectiveFrom:   u.SignupDate,
			EffectiveTo:     nil,
			IsCurrent:       true,
		})
	}
	t.log.WithField("users", len(dim)).Info("user dimension built")
	return dim
}

// BuildFactEvents resolves cleaned events against the user dimension.
// Events whose user has no dimension row are dropped and counted: the
// fact table never carries a user_key absent from dim_users. Platform
// and event-type keys are the natural string values; date_key and
// _partition_date are both the timestamp's date and always equal.
func (t *Transformer) BuildFactEvents(events []types.Event, dim []types.DimUser) ([]types.FactEvent, int) {
	keyByUserID := make(map[string]string, len(dim))
	for _, d := range dim {
		keyByUserID[d.UserID] = d.UserKey
	}

	facts := make([]types.FactEvent, 0, len(events))
	dropped := 0
	for _, e := range events {
		userKey, ok := keyByUserID[e.UserID]
		if !ok {
			dropped++
			continue
		}
		dateKey := e.DateKey()
		facts = append(facts, types.FactEvent{
			EventID:       e.EventID,
			Timestamp:     e.Timestamp,
			DateKey:       dateKey,
			UserKey:       userKey,
			PlatformKey:   e.Platform,
			EventTypeKey:  e.EventType,
			SessionID:     e.SessionID,
			Country:       e.Country,
			DeviceType:    e.DeviceType,
			EventCount:    1,
			PartitionDate: dateKey,
		})
	}

	if dropped > 0 {
		t.log.WithField("dropped", dropped).Warn("dropped events for unknown users")
	}
	t.log.WithField("facts", len(facts)).Info("fact table built")
	return facts, dropped
}

// ComputeDailyAggregates groups facts by (date_key, platform_key) and
// computes the daily metrics: distinct active users, users whose signup
// date equals the group's date, total events and sessions, per-type
// breakdowns, and events per session (0 when the group has no sessions).
// Output order is deterministic: by date, then platform.
func (t *Transformer) ComputeDailyAggregates(facts []types.FactEvent, dim []types.DimUser) []types.DailyAggregate {
	signupByKey := make(map[string]string, len(dim))
	for _, d := range dim {
		signupByKey[d.UserKey] = d.SignupDate
	}

	type groupKey struct{ date, platform string }
	type groupAcc struct {
		users    map[string]struct{}
		newUsers map[string]struct{}
		sessions map[string]struct{}
		total    int64
		byType   map[string]int64
	}

	groups := make(map[groupKey]*groupAcc)
	for _, f := range facts {
		k := groupKey{f.DateKey, f.PlatformKey}
		acc, ok := groups[k]
		if !ok {
			acc = &groupAcc{
				users:    make(map[string]struct{}),
				newUsers: make(map[string]struct{}),
				sessions: make(map[string]struct{}),
				byType:   make(map[string]int64),
			}
			groups[k] = acc
		}
		acc.users[f.UserKey] = struct{}{}
		if signupByKey[f.UserKey] == f.DateKey {
			acc.newUsers[f.UserKey] = struct{}{}
		}
		if f.SessionID != "" {
			acc.sessions[f.SessionID] = struct{}{}
		}
		acc.total += f.EventCount
		acc.byType[f.EventTypeKey] += f.EventCount
	}

	aggs := make([]types.DailyAggregate, 0, len(groups))
	for k, acc := range groups {
		avg := 0.0
		if len(acc.sessions) > 0 {
			avg = math.Round(float64(acc.total)/float64(len(acc.sessions))*100) / 100
		}
		aggs = append(aggs, types.DailyAggregate{
			DateKey:          k.date,
			PlatformKey:      k.platform,
			DAU:              int64(len(acc.users)),
			NewUsers:         int64(len(acc.newUsers)),
			TotalEvents:      acc.total,
			TotalSessions:    int64(len(acc.sessions)),
			ContentCreates:   acc.byType["content_create"],
			Likes:            acc.byType["like"],
			Comments:         acc.byType["comment"],
			Shares:           acc.byType["share"],
			MessagesSent:     acc.byType["message_sent"],
			AdImpressions:    acc.byType["ad_impression"],
			AdClicks:         acc.byType["ad_click"],
			AvgSessionEvents: avg,
		})
	}

	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].DateKey != aggs[j].DateKey {
			return aggs[i].DateKey < aggs[j].DateKey
		}
		return aggs[i].PlatformKey < aggs[j].PlatformKey
	})

	t.log.WithField("groups", len(aggs)).Info("daily aggregates computed")
	return aggs
}

// Engagement score weights: recency 30%, frequency 30%, breadth 20%,
// volume 20%.
const (
	recencyWeight   = 0.30
	frequencyWeight = 0.30
	breadthWeight   = 0.20
	volumeWeight    = 0.20
)

// ComputeEngagementScores computes per-user engagement for the trailing
// 28-day window ending at reportDate inclusive. An empty window yields an
// empty result; callers treat that as "skip load", not an error.
func (t *Transformer) ComputeEngagementScores(facts []types.FactEvent, reportDate string) ([]types.EngagementScore, error) {
	reportDt, err := time.Parse(types.DateKeyLayout, reportDate)
	if err != nil {
		return nil, err
	}
	d7Start := reportDt.AddDate(0, 0, -6)
	d28Start := reportDt.AddDate(0, 0, -27)

	type userAcc struct {
		activeDates map[string]struct{}
		l7Dates     map[string]struct{}
		l7Platforms map[string]struct{}
		l7Events    int64
		l28Events   int64
		lastActive  time.Time
	}

	users := make(map[string]*userAcc)
	for _, f := range facts {
		day, err := time.Parse(types.DateKeyLayout, f.DateKey)
		if err != nil {
			continue
		}
		if day.Before(d28Start) || day.After(reportDt) {
			continue
		}
		acc, ok := users[f.UserKey]
		if !ok {
			acc = &userAcc{
				activeDates: make(map[string]struct{}),
				l7Dates:     make(map[string]struct{}),
				l7Platforms: make(map[string]struct{}),
			}
			users[f.UserKey] = acc
		}
		acc.activeDates[f.DateKey] = struct{}{}
		acc.l28Events++
		if day.After(acc.lastActive) {
			acc.lastActive = day
		}
		if !day.Before(d7Start) {
			acc.l7Dates[f.DateKey] = struct{}{}
			acc.l7Platforms[f.PlatformKey] = struct{}{}
			acc.l7Events++
		}
	}

	if len(users) == 0 {
		t.log.WithField("report_date", reportDate).Warn("no events in 28-day engagement window")
		return nil, nil
	}

	scores := make([]types.EngagementScore, 0, len(users))
	for userKey, acc := range users {
		_, l1 := acc.activeDates[reportDate]

		recency := 100.0
		if !l1 {
			daysSince := int(reportDt.Sub(acc.lastActive).Hours() / 24)
			recency = math.Max(0, 100-float64(daysSince)*10)
		}
		frequency := math.Min(100, float64(len(acc.l7Dates))/7*100)
		breadth := math.Min(100, float64(len(acc.l7Platforms))/5*100)
		volume := math.Min(100, float64(acc.l7Events)/50*100)

		score := math.Round((recency*recencyWeight+
			frequency*frequencyWeight+
			breadth*breadthWeight+
			volume*volumeWeight)*10) / 10

		scores = append(scores, types.EngagementScore{
			UserKey:         userKey,
			DateKey:         reportDate,
			L1Active:        l1,
			L7Active:        len(acc.l7Dates) > 0,
			L28Active:       len(acc.activeDates) > 0,
			L7DaysActive:    int64(len(acc.l7Dates)),
			L28DaysActive:   int64(len(acc.activeDates)),
			TotalEventsL7:   acc.l7Events,
			TotalEventsL28:  acc.l28Events,
			PlatformsUsedL7: int64(len(acc.l7Platforms)),
			Score:           score,
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].UserKey < scores[j].UserKey })

	t.log.WithFields(logrus.Fields{
		"report_date": reportDate,
		"users":       len(scores),
	}).Info("engagement scores computed")
	return scores, nil
}

// ComputeRetentionCohorts builds the weekly cohort retention matrix.
// Users are grouped by signup week (Monday-start) and primary platform;
// a cohort cell counts users active anywhere in the lake during week N
// after their signup week. Only week offsets with at least one active
// user are emitted.
func (t *Transformer) ComputeRetentionCohorts(facts []types.FactEvent, dim []types.DimUser) []types.RetentionCohort {
	type cohortID struct {
		week     string
		platform string
	}

	cohortOf := make(map[string]cohortID, len(dim))
	weekStart := make(map[string]time.Time, len(dim))
	cohortSize := make(map[cohortID]int64)
	for _, d := range dim {
		signup, err := time.Parse(types.DateKeyLayout, d.SignupDate)
		if err != nil {
			continue
		}
		ws := mondayOf(signup)
		id := cohortID{week: ws.Format(types.DateKeyLayout), platform: d.PrimaryPlatform}
		cohortOf[d.UserKey] = id
		weekStart[d.UserKey] = ws
		cohortSize[id]++
	}

	type cellID struct {
		cohort cohortID
		week   int64
	}
	retained := make(map[cellID]map[string]struct{})
	for _, f := range facts {
		id, ok := cohortOf[f.UserKey]
		if !ok {
			continue
		}
		day, err := time.Parse(types.DateKeyLayout, f.DateKey)
		if err != nil {
			continue
		}
		offset := int64(day.Sub(weekStart[f.UserKey]).Hours() / 24 / 7)
		if offset < 0 {
			continue
		}
		cell := cellID{cohort: id, week: offset}
		if retained[cell] == nil {
			retained[cell] = make(map[string]struct{})
		}
		retained[cell][f.UserKey] = struct{}{}
	}

	cohorts := make([]types.RetentionCohort, 0, len(retained))
	for cell, userSet := range retained {
		size := cohortSize[cell.cohort]
		rate := 0.0
		if size > 0 {
			rate = math.Round(float64(len(userSet))/float64(size)*100*100) / 100
		}
		cohorts = append(cohorts, types.RetentionCohort{
			CohortWeek:       cell.cohort.week,
			PlatformKey:      cell.cohort.platform,
			WeeksSinceSignup: cell.week,
			CohortSize:       size,
			RetainedUsers:    int64(len(userSet)),
			RetentionRate:    rate,
		})
	}

	sort.Slice(cohorts, func(i, j int) bool {
		a, b := cohorts[i], cohorts[j]
		if a.CohortWeek != b.CohortWeek {
			return a.CohortWeek < b.CohortWeek
		}
		if a.PlatformKey != b.PlatformKey {
			return a.PlatformKey < b.PlatformKey
		}
		return a.WeeksSinceSignup < b.WeeksSinceSignup
	})

	t.log.WithField("cells", len(cohorts)).Info("retention cohorts computed")
	return cohorts
}

// mondayOf returns the Monday that starts d's week.
func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
