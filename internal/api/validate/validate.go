package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/mycelian/calsync/internal/model"
)

// userIDRx covers the ids the auth collaborator issues: opaque tokens and emails.
var userIDRx = regexp.MustCompile(`^[A-Za-z0-9_.@+\-]{1,128}$`)

var colorRx = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const (
	maxTitle       = 255
	maxDescription = 8000
	maxLocation    = 500
	maxCalendar    = 100
)

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

func UserID(v string) error {
	if err := NonEmpty("userId", v); err != nil {
		return err
	}
	if !userIDRx.MatchString(v) {
		return fmt.Errorf("userId must match %s", userIDRx.String())
	}
	return nil
}

// Provider parses a path or query provider name.
func Provider(v string) (model.Provider, error) {
	p := model.Provider(v)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown provider %q", v)
	}
	return p, nil
}

func EventID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("eventId must be a positive integer")
	}
	return id, nil
}

// Limit parses an optional limit query parameter, clamping it to max.
func Limit(v string, def, max int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// Time parses an optional RFC 3339 query parameter. Empty yields the zero time.
func Time(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339", field)
	}
	return t.UTC(), nil
}

// -------- Request specific helpers ----------

func CreateCalendar(name, color string) error {
	if err := MaxLen("name", &name, maxCalendar); err != nil {
		return err
	}
	if color != "" && !colorRx.MatchString(color) {
		return fmt.Errorf("color must look like #rrggbb")
	}
	return nil
}

func EventInput(title string, description, location, rule *string) error {
	if err := MaxLen("title", &title, maxTitle); err != nil {
		return err
	}
	if err := MaxLen("description", description, maxDescription); err != nil {
		return err
	}
	if err := MaxLen("location", location, maxLocation); err != nil {
		return err
	}
	return MaxLen("recurrenceRule", rule, maxTitle)
}

// FeedURL accepts the http(s) and webcal(s) links calendar apps publish.
func FeedURL(v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	u, err := url.Parse(*v)
	if err != nil || u.Host == "" {
		return fmt.Errorf("feedUrl must be an absolute URL")
	}
	switch u.Scheme {
	case "http", "https", "webcal", "webcals":
		return nil
	}
	return fmt.Errorf("feedUrl scheme %q is not supported", u.Scheme)
}
