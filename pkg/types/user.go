package types

// RawUser is a user profile row from the full lake snapshot. One row per
// user at generation time; signup_date is a DateKeyLayout string.
type RawUser struct {
	UserID          string `json:"user_id"`
	Country         string `json:"country"`
	AgeGroup        string `json:"age_group"`
	DeviceType      string `json:"device_type"`
	UserSegment     string `json:"user_segment"`
	SignupDate      string `json:"signup_date"`
	PrimaryPlatform string `json:"primary_platform"`
}

// DimUser is a row of the user dimension in SCD type 2 shape. The pipeline
// currently maintains a single version per user: every row is current and
// EffectiveTo stays nil. UserKey is a deterministic surrogate derived from
// UserID and is stable across runs.
type DimUser struct {
	UserKey         string
	UserID          string
	Country         string
	AgeGroup        string
	DeviceType      string
	UserSegment     string
	SignupDate      string
	PrimaryPlatform string
	EffectiveFrom   string
	EffectiveTo     *string
	IsCurrent       bool
}
