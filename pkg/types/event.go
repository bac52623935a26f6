// Package types provides core data types for the Starforge analytics pipeline.
package types

import "time"

// DateKeyLayout is the canonical format for date keys and partition dates.
const DateKeyLayout = "2006-01-02"

// Platforms is the fixed set of product surfaces events are reported from.
var Platforms = []string{"facebook", "instagram", "messenger", "whatsapp", "threads"}

// EventTypes is the allow-list of known event kinds. Rows carrying any other
// event_type are rejected during cleaning.
var EventTypes = []string{
	"app_open", "content_view", "content_create", "like", "comment",
	"share", "message_sent", "story_view", "story_create", "ad_impression",
	"ad_click", "search", "profile_view", "notification_open", "session_end",
}

// ValidEventType reports whether t is in the event-type allow-list.
func ValidEventType(t string) bool {
	for _, e := range EventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// RawEvent is a single event row as read from a lake partition. The
// timestamp is kept as the raw string until cleaning coerces it; rows
// whose timestamp fails to parse are rejected, not errored.
type RawEvent struct {
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	EventType      string `json:"event_type"`
	Platform       string `json:"platform"`
	EventTimestamp string `json:"event_timestamp"`
	Country        string `json:"country"`
	DeviceType     string `json:"device_type"`
	SessionID      string `json:"session_id"`
}

// Event is a cleaned event with a parsed timestamp.
type Event struct {
	EventID    string
	UserID     string
	EventType  string
	Platform   string
	Timestamp  time.Time
	Country    string
	DeviceType string
	SessionID  string
}

// DateKey returns the event's date component in DateKeyLayout form.
func (e Event) DateKey() string {
	return e.Timestamp.UTC().Format(DateKeyLayout)
}

// TimestampLayouts are the accepted forms for raw event timestamps,
// tried in order during cleaning.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseEventTimestamp parses a raw timestamp string, trying each accepted
// layout. The second return is false when no layout matches.
func ParseEventTimestamp(s string) (time.Time, bool) {
	for _, layout := range TimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
