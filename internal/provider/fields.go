package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/mycelian/calsync/internal/model"
)

// Title returns t, or the default title when t is blank.
func Title(t string) string {
	if strings.TrimSpace(t) == "" {
		return model.DefaultEventTitle
	}
	return t
}

// PushString flattens an optional field for outbound payloads: absent becomes "".
func PushString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PullString lifts an inbound field: empty becomes nil.
func PullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// ParseRemoteTime reads a provider timestamp. Date-only values ("2024-01-01")
// report hasTime=false, which marks the event all-day. Values without an
// offset are interpreted in tz (IANA name), defaulting to UTC.
func ParseRemoteTime(value, tz string) (t time.Time, hasTime bool, err error) {
	value = strings.TrimSpace(value)
	loc := time.UTC
	if tz != "" && !strings.EqualFold(tz, "UTC") {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			loc = l
		}
	}
	if d, derr := time.ParseInLocation("2006-01-02", value, loc); derr == nil {
		return d.UTC(), false, nil
	}
	for _, layout := range timeLayouts {
		if v, perr := time.ParseInLocation(layout, value, loc); perr == nil {
			return v.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised time %q", value)
}
