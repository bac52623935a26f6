package warehouse

// Static dimension seed data. Seeding uses INSERT OR IGNORE keyed on the
// dimension primary key, so it is safe to run on every full-refresh start
// and is skipped entirely on incremental runs.

// platformSeed maps platform_key to (platform_name, app_family).
var platformSeed = []struct {
	Key    string
	Name   string
	Family string
}{
	{"facebook", "Facebook", "core"},
	{"instagram", "Instagram", "core"},
	{"messenger", "Messenger", "messaging"},
	{"whatsapp", "WhatsApp", "messaging"},
	{"threads", "Threads", "core"},
}

// eventTypeSeed maps event_type_key to its category.
var eventTypeSeed = []struct {
	Key      string
	Category string
}{
	{"app_open", "session"},
	{"session_end", "session"},
	{"content_view", "content"},
	{"content_create", "content"},
	{"story_view", "content"},
	{"story_create", "content"},
	{"like", "engagement"},
	{"comment", "engagement"},
	{"share", "engagement"},
	{"message_sent", "messaging"},
	{"ad_impression", "ads"},
	{"ad_click", "ads"},
	{"search", "discovery"},
	{"profile_view", "discovery"},
	{"notification_open", "notification"},
}

// Calendar dimension bounds. Signup dates reach back to 2021 and the
// dimension must stay ahead of incoming event dates.
const (
	dateDimStart = "2021-01-01"
	dateDimEnd   = "2030-12-31"
)
