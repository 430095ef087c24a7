package domain

import (
	"strconv"
	"strings"
	"time"
)

// ProfileField is one named value under optimistic concurrency control.
type ProfileField struct {
	ApplicantID string
	Name        string
	Value       string
	Version     int64 // starts at 1, incremented by every successful conditional write
	UpdatedAt   time.Time
}

// ETag returns the strong entity tag for the field's version.
func (f ProfileField) ETag() string { return FormatETag(f.Version) }

// FormatETag renders version as a quoted strong ETag.
func FormatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ParseETag accepts `"3"` or a bare `3`. Weak validators are refused since a
// conditional write needs a strong comparison.
func ParseETag(tag string) (int64, bool) {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(tag, "W/") {
		return 0, false
	}
	tag = strings.Trim(tag, `"`)
	v, err := strconv.ParseInt(tag, 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
