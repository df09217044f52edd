// Package ics pulls events from published iCalendar feeds, which is how
// Apple (iCloud) calendars are shared. Feeds are read-only, so the adapter
// only implements provider.PullOnly.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/synclog"
)

const (
	icalDateLayout  = "20060102"
	icalUTCLayout   = "20060102T150405Z"
	icalLocalLayout = "20060102T150405"

	// Recurring events are expanded over this window around now.
	expandLookBack  = 30 * 24 * time.Hour
	expandLookAhead = 365 * 24 * time.Hour
	maxInstances    = 500
)

var (
	errNoUID             = errors.New("event has no UID")
	errNoStart           = errors.New("event has no DTSTART")
	errBadDate           = errors.New("malformed DATE value")
	errUnsupportedScheme = errors.New("unsupported scheme")
	errNoHost            = errors.New("missing host")
)

// Adapter reads a user's subscribed feed from ProviderConnection.FeedURL.
type Adapter struct {
	client   *resty.Client
	mappings provider.Mappings
	logs     *synclog.Logger
	log      zerolog.Logger
	provider model.Provider
	now      func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) { a.client = resty.NewWithClient(hc) }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithProvider files pulled events under p instead of apple.
func WithProvider(p model.Provider) Option {
	return func(a *Adapter) { a.provider = p }
}

// New returns a feed adapter registered as the apple provider.
func New(mappings provider.Mappings, logs *synclog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		client:   resty.New(),
		mappings: mappings,
		logs:     logs,
		log:      zerolog.Nop(),
		provider: model.ProviderApple,
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.client.SetHeader("Accept", "text/calendar")
	a.log = a.log.With().Str("provider", string(a.provider)).Logger()
	return a
}

// Provider implements provider.Named; apple unless WithProvider says otherwise.
func (a *Adapter) Provider() model.Provider { return a.provider }

// ValidateConnection implements provider.ConnectionValidator. Feeds carry
// their credential in the URL, so only its presence is checked.
func (a *Adapter) ValidateConnection(conn model.ProviderConnection, _ time.Time) error {
	if conn.FeedURL == nil || strings.TrimSpace(*conn.FeedURL) == "" {
		return &model.AuthenticationError{Provider: a.provider, UserID: conn.UserID, Reason: "missing feed url"}
	}
	if _, err := feedURL(*conn.FeedURL); err != nil {
		return &model.AuthenticationError{Provider: a.provider, UserID: conn.UserID, Reason: "invalid feed url: " + err.Error()}
	}
	return nil
}

// PullEvents implements provider.Puller.
func (a *Adapter) PullEvents(ctx context.Context, conn model.ProviderConnection) ([]model.NormalizedEvent, error) {
	return provider.PullEvents(ctx, a.mappings, a.logs, a, conn)
}

// feedURL turns webcal:// links into https and rejects anything that is not http(s).
func feedURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, &url.Error{Op: "parse", URL: raw, Err: errUnsupportedScheme}
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: errNoHost}
	}
	return u, nil
}

// PrimaryCalendarID implements provider.RemoteLister. A feed is one calendar;
// its id is the feed location without the query string, which usually holds
// the access token.
func (a *Adapter) PrimaryCalendarID(_ context.Context, conn model.ProviderConnection) (string, error) {
	if conn.FeedURL == nil {
		return "", provider.MalformedError(a.provider, provider.OpList, "connection has no feed url")
	}
	u, err := feedURL(*conn.FeedURL)
	if err != nil {
		return "", provider.MalformedError(a.provider, provider.OpList, err.Error())
	}
	return u.Host + u.Path, nil
}

// ListEvents implements provider.RemoteLister. Recurring events are expanded
// into instances inside a window around now.
func (a *Adapter) ListEvents(ctx context.Context, conn model.ProviderConnection, _ string) ([]provider.RemoteEvent, error) {
	if conn.FeedURL == nil {
		return nil, provider.MalformedError(a.provider, provider.OpList, "connection has no feed url")
	}
	u, err := feedURL(*conn.FeedURL)
	if err != nil {
		return nil, provider.MalformedError(a.provider, provider.OpList, err.Error())
	}

	resp, err := a.client.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return nil, provider.TransportError(a.provider, provider.OpList, err)
	}
	if !resp.IsSuccess() {
		return nil, provider.HTTPError(a.provider, provider.OpList, conn, resp.StatusCode(), resp.String(),
			provider.ParseRetryAfter(resp.Header().Get("Retry-After"), a.now()))
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, provider.MalformedError(a.provider, provider.OpList, "unparseable feed: "+err.Error())
	}

	parsed := make([]feedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		fe, err := parseVEvent(ve)
		if err != nil {
			a.log.Warn().Err(err).Str("external_id", fe.ID).Msg("skipping unreadable event")
			continue
		}
		parsed = append(parsed, fe)
	}
	now := a.now().UTC()
	out := expand(parsed, now.Add(-expandLookBack), now.Add(expandLookAhead), a.log)
	a.log.Debug().Int("vevents", len(parsed)).Int("events", len(out)).Msg("feed parsed")
	return out, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

// feedEvent is one VEVENT before recurrence expansion.
type feedEvent struct {
	provider.RemoteEvent
	// loc is the DTSTART zone; rules expand in it so DST shifts are kept.
	loc          *time.Location
	rule         string
	exdates      []time.Time
	recurrenceID string // instance key of an override, empty on masters
	cancelled    bool
}

func parseVEvent(ve *ical.VEvent) (fe feedEvent, err error) {
	fe.ID = propValue(ve, ical.ComponentPropertyUniqueId)
	if fe.ID == "" {
		return fe, errNoUID
	}
	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		t, _, allDay, err := timeValue(rid.Value, rid.ICalParameters)
		if err != nil {
			return fe, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		fe.recurrenceID = instanceKey(t, allDay)
	}
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED") {
		fe.cancelled = true
		return fe, nil
	}
	fe.Title = propValue(ve, ical.ComponentPropertySummary)
	fe.Description = propValue(ve, ical.ComponentPropertyDescription)
	fe.Location = propValue(ve, ical.ComponentPropertyLocation)

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return fe, errNoStart
	}
	var start time.Time
	start, fe.loc, fe.AllDay, err = timeValue(startProp.Value, startProp.ICalParameters)
	if err != nil {
		return fe, fmt.Errorf("DTSTART: %w", err)
	}
	fe.Start = start.UTC()
	fe.End = fe.Start
	if fe.AllDay {
		fe.End = fe.Start.Add(24 * time.Hour)
	}
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		if end, _, _, err := timeValue(endProp.Value, endProp.ICalParameters); err == nil && !end.Before(fe.Start) {
			if !fe.AllDay || end.After(fe.Start) {
				fe.End = end.UTC()
			}
		}
	}

	if rule := ve.GetProperty(ical.ComponentPropertyRrule); rule != nil {
		fe.rule = strings.TrimSpace(rule.Value)
	}
	for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(ex.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			if t, _, _, err := timeValue(part, ex.ICalParameters); err == nil {
				fe.exdates = append(fe.exdates, t)
			}
		}
	}
	return fe, nil
}

// timeValue reads a DATE or DATE-TIME value. TZID is honoured; floating times
// and DATE values are taken as UTC.
func timeValue(v string, params map[string][]string) (t time.Time, loc *time.Location, allDay bool, err error) {
	v = strings.TrimSpace(v)
	loc = time.UTC
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if l, lerr := time.LoadLocation(tz[0]); lerr == nil {
			loc = l
		}
	}
	allDay = !strings.Contains(v, "T")
	if vals, ok := params["VALUE"]; ok && len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
		allDay = true
	}
	switch {
	case allDay:
		t, err = parseDate(v)
		return t, time.UTC, true, err
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse(icalUTCLayout, v)
		return t, time.UTC, false, err
	default:
		t, err = time.ParseInLocation(icalLocalLayout, v, loc)
		return t, loc, false, err
	}
}

// parseDate reads a DATE value as midnight UTC.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) < len(icalDateLayout) {
		return time.Time{}, errBadDate
	}
	return time.Parse(icalDateLayout, v[:len(icalDateLayout)])
}

// instanceKey names one occurrence by its original start, in RECURRENCE-ID form.
func instanceKey(t time.Time, allDay bool) string {
	if allDay {
		return t.UTC().Format(icalDateLayout)
	}
	return t.UTC().Format(icalUTCLayout)
}
