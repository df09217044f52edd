// Package google talks to the Google Calendar v3 API.
package google

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/synclog"
)

const (
	primaryCalendar = "primary"
	dateLayout      = "2006-01-02"
	pageSize        = 250
	maxPages        = 20
)

// Adapter pushes to and pulls from a user's Google calendars.
type Adapter struct {
	endpoint   string
	httpClient *http.Client
	mappings   provider.Mappings
	logs       *synclog.Logger
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEndpoint overrides the API base URL (tests, proxies).
func WithEndpoint(u string) Option {
	return func(a *Adapter) { a.endpoint = u }
}

// WithHTTPClient sets the base transport that OAuth requests are layered on.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) { a.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New returns a Google adapter.
func New(mappings provider.Mappings, logs *synclog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		httpClient: http.DefaultClient,
		mappings:   mappings,
		logs:       logs,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With().Str("provider", string(model.ProviderGoogle)).Logger()
	return a
}

// Provider implements provider.Named.
func (a *Adapter) Provider() model.Provider { return model.ProviderGoogle }

// PushEvent implements provider.Pusher.
func (a *Adapter) PushEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, action model.Action) error {
	return provider.PushEvent(ctx, a.mappings, a.logs, a, conn, ev, action)
}

// PullEvents implements provider.Puller.
func (a *Adapter) PullEvents(ctx context.Context, conn model.ProviderConnection) ([]model.NormalizedEvent, error) {
	return provider.PullEvents(ctx, a.mappings, a.logs, a, conn)
}

// service builds a client authorised with the connection's bearer token.
// The token is never refreshed here.
func (a *Adapter) service(ctx context.Context, conn model.ProviderConnection, op string) (*calendar.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	hc := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conn.AccessToken, TokenType: "Bearer"}))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, provider.TransportError(model.ProviderGoogle, op, err)
	}
	return svc, nil
}

// classify maps client library errors onto provider errors.
func (a *Adapter) classify(op string, conn model.ProviderConnection, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		var retryAfter time.Duration
		if gerr.Header != nil {
			retryAfter = provider.ParseRetryAfter(gerr.Header.Get("Retry-After"), a.now())
		}
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Body
		}
		return provider.HTTPError(model.ProviderGoogle, op, conn, gerr.Code, msg, retryAfter)
	}
	return provider.TransportError(model.ProviderGoogle, op, err)
}

// calendarFor returns the remote calendar a local one is mapped to, else primary.
func (a *Adapter) calendarFor(ctx context.Context, calendarID int64) (string, error) {
	ext, ok, err := a.mappings.GetExternalCalendarID(ctx, calendarID, model.ProviderGoogle)
	if err != nil {
		return "", err
	}
	if !ok {
		return primaryCalendar, nil
	}
	return ext, nil
}

func toGoogle(ev model.LocalEvent) *calendar.Event {
	out := &calendar.Event{
		Summary:     provider.Title(ev.Title),
		Description: provider.PushString(ev.Description),
		Location:    provider.PushString(ev.Location),
		// Send "" explicitly so clearing a field clears it remotely.
		ForceSendFields: []string{"Description", "Location"},
	}
	start, end := ev.StartTime.UTC(), ev.EndTime.UTC()
	if ev.AllDay {
		// All-day end dates are exclusive.
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		out.Start = &calendar.EventDateTime{Date: start.Format(dateLayout)}
		out.End = &calendar.EventDateTime{Date: end.Format(dateLayout)}
		return out
	}
	out.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"}
	out.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: "UTC"}
	return out
}

func parseEventTime(dt *calendar.EventDateTime) (t time.Time, hasTime bool, err error) {
	if dt == nil {
		return time.Time{}, false, errNoTime
	}
	if dt.DateTime != "" {
		return provider.ParseRemoteTime(dt.DateTime, dt.TimeZone)
	}
	if dt.Date != "" {
		return provider.ParseRemoteTime(dt.Date, dt.TimeZone)
	}
	return time.Time{}, false, errNoTime
}

var errNoTime = errors.New("event time has neither date nor dateTime")

func fromGoogle(e *calendar.Event) (provider.RemoteEvent, error) {
	out := provider.RemoteEvent{
		ID:          e.Id,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
	}
	start, hasTime, err := parseEventTime(e.Start)
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = !hasTime
	if end, _, err := parseEventTime(e.End); err == nil {
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}
	return out, nil
}

// CreateEvent implements provider.RemoteWriter.
func (a *Adapter) CreateEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, externalCalendarID string) (string, error) {
	svc, err := a.service(ctx, conn, provider.OpCreate)
	if err != nil {
		return "", err
	}
	calID := externalCalendarID
	if calID == "" {
		calID = primaryCalendar
	}
	created, err := svc.Events.Insert(calID, toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return "", a.classify(provider.OpCreate, conn, err)
	}
	if created.Id == "" {
		return "", provider.MalformedError(model.ProviderGoogle, provider.OpCreate, "insert response carries no id")
	}
	return created.Id, nil
}

// UpdateEvent implements provider.RemoteWriter.
func (a *Adapter) UpdateEvent(ctx context.Context, conn model.ProviderConnection, externalID string, ev model.LocalEvent) error {
	svc, err := a.service(ctx, conn, provider.OpUpdate)
	if err != nil {
		return err
	}
	calID, err := a.calendarFor(ctx, ev.CalendarID)
	if err != nil {
		return err
	}
	if _, err := svc.Events.Update(calID, externalID, toGoogle(ev)).Context(ctx).Do(); err != nil {
		return a.classify(provider.OpUpdate, conn, err)
	}
	return nil
}

// DeleteEvent implements provider.RemoteWriter.
func (a *Adapter) DeleteEvent(ctx context.Context, conn model.ProviderConnection, externalID string, ev model.LocalEvent) error {
	svc, err := a.service(ctx, conn, provider.OpDelete)
	if err != nil {
		return err
	}
	calID, err := a.calendarFor(ctx, ev.CalendarID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(calID, externalID).Context(ctx).Do(); err != nil {
		return a.classify(provider.OpDelete, conn, err)
	}
	return nil
}

// PrimaryCalendarID implements provider.RemoteLister.
func (a *Adapter) PrimaryCalendarID(ctx context.Context, conn model.ProviderConnection) (string, error) {
	svc, err := a.service(ctx, conn, provider.OpList)
	if err != nil {
		return "", err
	}
	entry, err := svc.CalendarList.Get(primaryCalendar).Context(ctx).Do()
	if err != nil {
		return "", a.classify(provider.OpList, conn, err)
	}
	if entry.Id == "" {
		return primaryCalendar, nil
	}
	return entry.Id, nil
}

// ListEvents implements provider.RemoteLister. Recurring events are expanded
// into single instances.
func (a *Adapter) ListEvents(ctx context.Context, conn model.ProviderConnection, _ string) ([]provider.RemoteEvent, error) {
	svc, err := a.service(ctx, conn, provider.OpList)
	if err != nil {
		return nil, err
	}
	var out []provider.RemoteEvent
	token := ""
	for page := 0; page < maxPages; page++ {
		call := svc.Events.List(primaryCalendar).SingleEvents(true).MaxResults(pageSize).Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		res, err := call.Do()
		if err != nil {
			return nil, a.classify(provider.OpList, conn, err)
		}
		for _, item := range res.Items {
			if item.Status == "cancelled" {
				continue
			}
			re, err := fromGoogle(item)
			if err != nil {
				a.log.Warn().Err(err).Str("external_id", item.Id).Msg("skipping unreadable event")
				continue
			}
			out = append(out, re)
		}
		token = res.NextPageToken
		if token == "" {
			break
		}
	}
	return out, nil
}
