// Package outlook talks to Microsoft Graph v1.0 calendars.
package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/synclog"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	graphTimeLayout = "2006-01-02T15:04:05"
	maxPages        = 20

	// Pull window for calendarView, relative to now.
	pullLookBack  = 30 * 24 * time.Hour
	pullLookAhead = 365 * 24 * time.Hour
)

// Adapter pushes to and pulls from a user's default Outlook calendar.
type Adapter struct {
	client   *resty.Client
	mappings provider.Mappings
	logs     *synclog.Logger
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL points the adapter at another Graph endpoint.
func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		if u != "" {
			a.client.SetBaseURL(u)
		}
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) {
		base := a.client.BaseURL
		a.client = resty.NewWithClient(hc).SetBaseURL(base).SetHeader("Accept", "application/json")
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New returns an Outlook adapter.
func New(mappings provider.Mappings, logs *synclog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		client:   resty.New().SetBaseURL(DefaultBaseURL).SetHeader("Accept", "application/json"),
		mappings: mappings,
		logs:     logs,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With().Str("provider", string(model.ProviderOutlook)).Logger()
	return a
}

// Provider implements provider.Named.
func (a *Adapter) Provider() model.Provider { return model.ProviderOutlook }

// PushEvent implements provider.Pusher.
func (a *Adapter) PushEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, action model.Action) error {
	return provider.PushEvent(ctx, a.mappings, a.logs, a, conn, ev, action)
}

// PullEvents implements provider.Puller.
func (a *Adapter) PullEvents(ctx context.Context, conn model.ProviderConnection) ([]model.NormalizedEvent, error) {
	return provider.PullEvents(ctx, a.mappings, a.logs, a, conn)
}

// --- wire format ---

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// parse reads dateTime, falling back to a date-only value.
func (d *dateTimeTimeZone) parse() (t time.Time, hasTime bool, err error) {
	switch {
	case d == nil:
		return time.Time{}, false, errNoStart
	case d.DateTime != "":
		return provider.ParseRemoteTime(d.DateTime, d.TimeZone)
	case d.Date != "":
		return provider.ParseRemoteTime(d.Date, d.TimeZone)
	}
	return time.Time{}, false, errNoStart
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

// event is a Graph event resource. Pointer fields may be absent in responses.
type event struct {
	ID       string            `json:"id,omitempty"`
	Subject  string            `json:"subject"`
	Body     *itemBody         `json:"body,omitempty"`
	Start    *dateTimeTimeZone `json:"start,omitempty"`
	End      *dateTimeTimeZone `json:"end,omitempty"`
	Location *location         `json:"location,omitempty"`
	IsAllDay bool              `json:"isAllDay"`
}

type eventPage struct {
	Value    []event `json:"value"`
	NextLink string  `json:"@odata.nextLink"`
}

type calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var errNoStart = errors.New("event has no start")

func toGraph(ev model.LocalEvent) event {
	return event{
		Subject:  provider.Title(ev.Title),
		Body:     &itemBody{ContentType: "text", Content: provider.PushString(ev.Description)},
		Start:    &dateTimeTimeZone{DateTime: ev.StartTime.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:      &dateTimeTimeZone{DateTime: ev.EndTime.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		Location: &location{DisplayName: provider.PushString(ev.Location)},
		IsAllDay: ev.AllDay,
	}
}

func fromGraph(e event) (provider.RemoteEvent, error) {
	out := provider.RemoteEvent{ID: e.ID, Title: e.Subject, AllDay: e.IsAllDay}
	if e.Body != nil {
		out.Description = e.Body.Content
	}
	if e.Location != nil {
		out.Location = e.Location.DisplayName
	}
	start, hasTime, err := e.Start.parse()
	if err != nil {
		return out, err
	}
	out.Start = start
	if !hasTime {
		out.AllDay = true
	}
	switch {
	case e.End != nil && (e.End.DateTime != "" || e.End.Date != ""):
		end, _, err := e.End.parse()
		if err != nil {
			return out, err
		}
		out.End = end
	case out.AllDay:
		out.End = start.Add(24 * time.Hour)
	default:
		out.End = start
	}
	return out, nil
}

// --- HTTP ---

func (a *Adapter) request(ctx context.Context, conn model.ProviderConnection) *resty.Request {
	return a.client.R().
		SetContext(ctx).
		SetAuthToken(conn.AccessToken).
		SetHeader("client-request-id", uuid.NewString()).
		SetHeader("Prefer", `outlook.timezone="UTC"`)
}

// do runs req and maps failures onto provider errors.
func (a *Adapter) do(req *resty.Request, method, path, op string, conn model.ProviderConnection) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, provider.TransportError(model.ProviderOutlook, op, err)
	}
	if !resp.IsSuccess() {
		a.log.Debug().
			Str("op", op).
			Int("status", resp.StatusCode()).
			Str("request_id", resp.Header().Get("request-id")).
			Msg("graph call failed")
		return nil, provider.HTTPError(model.ProviderOutlook, op, conn, resp.StatusCode(), resp.String(),
			provider.ParseRetryAfter(resp.Header().Get("Retry-After"), a.now()))
	}
	return resp, nil
}

// CreateEvent implements provider.RemoteWriter.
func (a *Adapter) CreateEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, externalCalendarID string) (string, error) {
	req := a.request(ctx, conn).SetBody(toGraph(ev))
	path := "/me/events"
	if externalCalendarID != "" {
		path = "/me/calendars/{calendarId}/events"
		req.SetPathParam("calendarId", externalCalendarID)
	}
	resp, err := a.do(req, http.MethodPost, path, provider.OpCreate, conn)
	if err != nil {
		return "", err
	}
	var created event
	if err := json.Unmarshal(resp.Body(), &created); err != nil || created.ID == "" {
		return "", provider.MalformedError(model.ProviderOutlook, provider.OpCreate, "create response carries no id")
	}
	return created.ID, nil
}

// UpdateEvent implements provider.RemoteWriter.
func (a *Adapter) UpdateEvent(ctx context.Context, conn model.ProviderConnection, externalID string, ev model.LocalEvent) error {
	req := a.request(ctx, conn).SetBody(toGraph(ev)).SetPathParam("id", externalID)
	_, err := a.do(req, http.MethodPatch, "/me/events/{id}", provider.OpUpdate, conn)
	return err
}

// DeleteEvent implements provider.RemoteWriter.
func (a *Adapter) DeleteEvent(ctx context.Context, conn model.ProviderConnection, externalID string, _ model.LocalEvent) error {
	req := a.request(ctx, conn).SetPathParam("id", externalID)
	_, err := a.do(req, http.MethodDelete, "/me/events/{id}", provider.OpDelete, conn)
	return err
}

// PrimaryCalendarID implements provider.RemoteLister.
func (a *Adapter) PrimaryCalendarID(ctx context.Context, conn model.ProviderConnection) (string, error) {
	resp, err := a.do(a.request(ctx, conn), http.MethodGet, "/me/calendar", provider.OpList, conn)
	if err != nil {
		return "", err
	}
	var cal calendar
	if err := json.Unmarshal(resp.Body(), &cal); err != nil || cal.ID == "" {
		return "", provider.MalformedError(model.ProviderOutlook, provider.OpList, "calendar response carries no id")
	}
	return cal.ID, nil
}

// ListEvents implements provider.RemoteLister, following @odata.nextLink.
// calendarView expands recurring series into their instances, each with its
// own id, inside a window around now.
func (a *Adapter) ListEvents(ctx context.Context, conn model.ProviderConnection, _ string) ([]provider.RemoteEvent, error) {
	var out []provider.RemoteEvent
	now := a.now().UTC()
	next := "/me/calendar/calendarView"
	first := true
	for page := 0; next != "" && page < maxPages; page++ {
		req := a.request(ctx, conn)
		if first {
			req.SetQueryParams(map[string]string{
				"startDateTime": now.Add(-pullLookBack).Format(time.RFC3339),
				"endDateTime":   now.Add(pullLookAhead).Format(time.RFC3339),
				"$top":          "100",
			})
			first = false
		}
		resp, err := a.do(req, http.MethodGet, next, provider.OpList, conn)
		if err != nil {
			return nil, err
		}
		var p eventPage
		if err := json.Unmarshal(resp.Body(), &p); err != nil {
			return nil, provider.MalformedError(model.ProviderOutlook, provider.OpList, "undecodable event page: "+err.Error())
		}
		for _, e := range p.Value {
			re, err := fromGraph(e)
			if err != nil {
				a.log.Warn().Err(err).Str("external_id", e.ID).Msg("skipping unreadable event")
				continue
			}
			out = append(out, re)
		}
		next = p.NextLink
	}
	return out, nil
}
