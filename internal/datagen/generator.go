// Package datagen produces deterministic synthetic users and event
// streams for seeding the lake. The same seed always yields the same
// dataset, so generated data doubles as a reproducible test fixture.
package datagen

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/lake"
	"github.com/starforge/starforge/pkg/types"
)

// eventWeights models a realistic engagement funnel: views dominate,
// creation is rare, session_end is derived elsewhere and never sampled.
var eventWeights = []weighted{
	{"app_open", 0.18},
	{"content_view", 0.25},
	{"content_create", 0.03},
	{"like", 0.12},
	{"comment", 0.04},
	{"share", 0.03},
	{"message_sent", 0.10},
	{"story_view", 0.07},
	{"story_create", 0.01},
	{"ad_impression", 0.08},
	{"ad_click", 0.01},
	{"search", 0.03},
	{"profile_view", 0.03},
	{"notification_open", 0.02},
	{"session_end", 0.00},
}

var platformWeights = []weighted{
	{"facebook", 0.30},
	{"instagram", 0.30},
	{"messenger", 0.15},
	{"whatsapp", 0.15},
	{"threads", 0.10},
}

var countryWeights = []weighted{
	{"US", 0.25}, {"IN", 0.18}, {"BR", 0.10}, {"ID", 0.07},
	{"MX", 0.05}, {"PH", 0.04}, {"VN", 0.04}, {"TH", 0.03},
	{"GB", 0.03}, {"DE", 0.03}, {"FR", 0.03}, {"JP", 0.03},
	{"KR", 0.02}, {"CA", 0.02}, {"AU", 0.02}, {"OTHER", 0.06},
}

var ageWeights = []weighted{
	{"13-17", 0.08}, {"18-24", 0.25}, {"25-34", 0.30}, {"35-44", 0.18},
	{"45-54", 0.10}, {"55-64", 0.06}, {"65+", 0.03},
}

var deviceWeights = []weighted{
	{"ios", 0.35}, {"android", 0.45}, {"web", 0.15}, {"tablet", 0.05},
}

var segmentWeights = []weighted{
	{"power", 0.05}, {"active", 0.25}, {"casual", 0.50}, {"dormant", 0.20},
}

// segmentActivity is the [lo, hi) daily event range per user segment.
var segmentActivity = map[string][2]int{
	"power":   {20, 50},
	"active":  {5, 20},
	"casual":  {1, 5},
	"dormant": {0, 1},
}

// hourWeights reflect typical usage by UTC hour: quiet overnight, a
// morning ramp, and an evening peak.
var hourWeights = []float64{
	0.02, 0.01, 0.01, 0.01, 0.01, 0.02,
	0.03, 0.05, 0.06, 0.06, 0.06, 0.06,
	0.07, 0.07, 0.06, 0.05, 0.05, 0.06,
	0.07, 0.08, 0.07, 0.05, 0.04, 0.03,
}

// dowWeights index by time.Weekday converted to Monday-first. Weekends
// run hotter.
var dowWeights = []float64{0.13, 0.13, 0.13, 0.13, 0.14, 0.17, 0.17}

const primaryPlatformShare = 0.70

type weighted struct {
	value  string
	weight float64
}

// picker draws values from a discrete weighted distribution.
type picker struct {
	values []string
	cum    []float64
	total  float64
}

func newPicker(ws []weighted) *picker {
	p := &picker{}
	for _, w := range ws {
		p.total += w.weight
		p.values = append(p.values, w.value)
		p.cum = append(p.cum, p.total)
	}
	return p
}

func (p *picker) pick(rng *rand.Rand) string {
	x := rng.Float64() * p.total
	for i, c := range p.cum {
		if x < c {
			return p.values[i]
		}
	}
	return p.values[len(p.values)-1]
}

// pickIndex draws an index from a raw weight slice.
func pickIndex(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	x := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if x < cum {
			return i
		}
	}
	return len(weights) - 1
}

// userID derives a deterministic anonymized user ID from an index.
func userID(index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("user_%d", index)))
	return hex.EncodeToString(sum[:])[:16]
}

// signupEpoch anchors the five-year signup date spread.
var signupEpoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// GenerateUsers builds n synthetic user profiles. Identical (n, seed)
// pairs yield identical profiles.
func GenerateUsers(n int, seed int64) []types.RawUser {
	rng := rand.New(rand.NewSource(seed))
	countries := newPicker(countryWeights)
	ages := newPicker(ageWeights)
	devices := newPicker(deviceWeights)
	segments := newPicker(segmentWeights)
	platforms := newPicker(platformWeights)

	users := make([]types.RawUser, 0, n)
	for i := 0; i < n; i++ {
		signup := signupEpoch.AddDate(0, 0, rng.Intn(5*365))
		users = append(users, types.RawUser{
			UserID:          userID(i),
			Country:         countries.pick(rng),
			AgeGroup:        ages.pick(rng),
			DeviceType:      devices.pick(rng),
			UserSegment:     segments.pick(rng),
			SignupDate:      signup.Format(types.DateKeyLayout),
			PrimaryPlatform: platforms.pick(rng),
		})
	}
	return users
}

// Generator produces daily event partitions for a fixed user base.
type Generator struct {
	users     []types.RawUser
	startDate time.Time
	numDays   int
	rng       *rand.Rand
	log       *logrus.Logger

	events    *picker
	platforms *picker
}

// NewGenerator creates a generator for numDays starting at startDate
// (a date key). The seed fixes every draw.
func NewGenerator(users []types.RawUser, startDate string, numDays int, seed int64, log *logrus.Logger) (*Generator, error) {
	start, err := time.Parse(types.DateKeyLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}

	return &Generator{
		users:     users,
		startDate: start,
		numDays:   numDays,
		rng:       rand.New(rand.NewSource(seed)),
		log:       log,
		events:    newPicker(eventWeights),
		platforms: newPicker(platformWeights),
	}, nil
}

// EventsForDay generates one day's events across the whole user base.
// Per-user volume follows the segment's activity range, scaled by the
// day-of-week weight.
func (g *Generator) EventsForDay(date time.Time) []types.RawEvent {
	dow := (int(date.Weekday()) + 6) % 7
	dowScale := dowWeights[dow] / 0.14

	var events []types.RawEvent
	for _, user := range g.users {
		bounds := segmentActivity[user.UserSegment]
		lo, hi := bounds[0], bounds[1]
		scaledHi := int(float64(hi) * dowScale)
		if scaledHi < lo+1 {
			scaledHi = lo + 1
		}
		n := lo + g.rng.Intn(scaledHi+1-lo)
		if n == 0 {
			continue
		}

		for i := 0; i < n; i++ {
			hour := pickIndex(g.rng, hourWeights)
			ts := time.Date(date.Year(), date.Month(), date.Day(),
				hour, g.rng.Intn(60), g.rng.Intn(60), 0, time.UTC)

			platform := user.PrimaryPlatform
			if g.rng.Float64() >= primaryPlatformShare {
				platform = g.platforms.pick(g.rng)
			}

			eventSum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%d",
				user.UserID, ts.Format("2006-01-02T15:04:05"), i)))
			sessionSum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%d",
				user.UserID, date.Format("20060102"), hour)))

			events = append(events, types.RawEvent{
				EventID:        hex.EncodeToString(eventSum[:]),
				UserID:         user.UserID,
				EventType:      g.events.pick(g.rng),
				Platform:       platform,
				EventTimestamp: ts.Format(time.RFC3339),
				Country:        user.Country,
				DeviceType:     user.DeviceType,
				SessionID:      hex.EncodeToString(sessionSum[:])[:12],
			})
		}
	}
	return events
}

// WriteDataset writes the user file and every daily event partition into
// the lake through w. Returns the user and total event counts.
func (g *Generator) WriteDataset(ctx context.Context, w *lake.PartitionWriter) (int, int, error) {
	nUsers, err := w.WriteUsers(ctx, g.users)
	if err != nil {
		return 0, 0, err
	}
	g.log.WithField("users", nUsers).Info("user file written")

	totalEvents := 0
	for offset := 0; offset < g.numDays; offset++ {
		date := g.startDate.AddDate(0, 0, offset)
		dateKey := date.Format(types.DateKeyLayout)
		events := g.EventsForDay(date)
		n, err := w.WriteEvents(ctx, dateKey, events)
		if err != nil {
			return nUsers, totalEvents, err
		}
		totalEvents += n
		g.log.WithFields(logrus.Fields{
			"date":   dateKey,
			"events": n,
		}).Info("event partition written")
	}

	g.log.WithFields(logrus.Fields{
		"days":   g.numDays,
		"events": totalEvents,
	}).Info("dataset generation complete")
	return nUsers, totalEvents, nil
}
