package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/mapping"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/store/sqlite"
	"github.com/mycelian/calsync/internal/synclog"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//EN\r\n" +
	"X-WR-CALNAME:Home\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday-1\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20240101\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dentist-1\r\n" +
	"SUMMARY:Dentist\r\n" +
	"LOCATION:Main Street\r\n" +
	"DTSTART:20240102T150000Z\r\n" +
	"DTEND:20240102T160000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gone-1\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20240103T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20240104T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fixture struct {
	adapter *Adapter
	logs    *synclog.Logger
	calID   int64
	conn    model.ProviderConnection
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := sqlite.New(filepath.Join(t.TempDir(), "ics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.DB().Close() })
	cal, err := st.Calendars().Create(context.Background(), &model.LocalCalendar{UserID: "u1", Name: "Personal", IsDefault: true})
	require.NoError(t, err)

	logs := synclog.New(100, zerolog.Nop())
	u := srv.URL + "/published/feed.ics?token=secret"
	return &fixture{
		adapter: New(mapping.New(st, zerolog.Nop()), logs, WithHTTPClient(srv.Client())),
		logs:    logs,
		calID:   cal.ID,
		conn:    model.ProviderConnection{UserID: "u1", Provider: model.ProviderApple, FeedURL: &u, Active: true},
	}
}

func TestPullEvents_ParsesFeed(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/published/feed.ics", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	})

	events, err := f.adapter.PullEvents(context.Background(), f.conn)
	require.NoError(t, err)
	require.Len(t, events, 2)

	holiday := events[0]
	assert.Equal(t, "holiday-1", holiday.ExternalID)
	assert.Equal(t, model.ProviderApple, holiday.Provider)
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), holiday.StartTime)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), holiday.EndTime)
	assert.Nil(t, holiday.Description)
	assert.Equal(t, f.calID, holiday.CalendarID)

	dentist := events[1]
	assert.Equal(t, "Dentist", dentist.Title)
	assert.False(t, dentist.AllDay)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), dentist.StartTime)
	assert.Equal(t, time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC), dentist.EndTime)
	require.NotNil(t, dentist.Location)
	assert.Equal(t, "Main Street", *dentist.Location)
}

const recurringFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:w1\r\n" +
	"SUMMARY:Weekly sync\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=5\r\n" +
	"EXDATE:20240122T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:w1\r\n" +
	"RECURRENCE-ID:20240108T090000Z\r\n" +
	"SUMMARY:Weekly sync (moved)\r\n" +
	"DTSTART:20240108T150000Z\r\n" +
	"DTEND:20240108T160000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:w1\r\n" +
	"RECURRENCE-ID:20240129T090000Z\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20240129T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:bday\r\n" +
	"SUMMARY:Birthday\r\n" +
	"DTSTART;VALUE=DATE:20240310\r\n" +
	"RRULE:FREQ=YEARLY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestPullEvents_ExpandsRecurrences(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(recurringFeed))
	})
	f.adapter.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	events, err := f.adapter.PullEvents(context.Background(), f.conn)
	require.NoError(t, err)

	type instance struct {
		id    string
		title string
		start time.Time
	}
	var got []instance
	for _, e := range events {
		got = append(got, instance{e.ExternalID, e.Title, e.StartTime})
	}
	assert.Equal(t, []instance{
		{"w1/20240101T090000Z", "Weekly sync", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"w1/20240108T090000Z", "Weekly sync (moved)", time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)},
		{"w1/20240115T090000Z", "Weekly sync", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"bday/20240310", "Birthday", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
	}, got, "EXDATE and the cancelled override drop two of five instances; the window holds one birthday")

	assert.Equal(t, time.Date(2024, 1, 8, 16, 0, 0, 0, time.UTC), events[1].EndTime)
	assert.True(t, events[3].AllDay)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), events[3].EndTime)
}

func TestExpand_OrphanOverrideKeepsInstanceID(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	moved := feedEvent{recurrenceID: "20240301T090000Z"}
	moved.ID, moved.Title = "series-9", "Moved in"
	moved.Start = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	moved.End = moved.Start.Add(time.Hour)

	out := expand([]feedEvent{moved}, from, from.AddDate(0, 1, 0), zerolog.Nop())
	require.Len(t, out, 1)
	assert.Equal(t, "series-9/20240301T090000Z", out[0].ID)
	assert.Equal(t, "Moved in", out[0].Title)
}

func TestPullEvents_HTTPFailureIsPullError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	events, err := f.adapter.PullEvents(context.Background(), f.conn)
	assert.Nil(t, events)
	var pe *provider.PullError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, model.ProviderApple, pe.Provider)

	logs := f.logs.GetLogs(synclog.Filter{Provider: model.ProviderApple}, 10)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogError, logs[0].Level)
}

func TestPrimaryCalendarID_DropsQuery(t *testing.T) {
	a := New(nil, synclog.New(10, zerolog.Nop()))
	u := "webcal://p01-caldav.icloud.com/published/2/abc?token=x"
	id, err := a.PrimaryCalendarID(context.Background(), model.ProviderConnection{FeedURL: &u})
	require.NoError(t, err)
	assert.Equal(t, "p01-caldav.icloud.com/published/2/abc", id)
	assert.False(t, strings.Contains(id, "token"))
}

func TestValidateConnection(t *testing.T) {
	a := New(nil, synclog.New(10, zerolog.Nop()))
	now := time.Now()

	err := provider.ValidateConnection(a, model.ProviderConnection{UserID: "u1"}, now)
	assert.True(t, model.IsAuthenticationError(err))

	bad := "ftp://example.com/feed.ics"
	err = provider.ValidateConnection(a, model.ProviderConnection{UserID: "u1", FeedURL: &bad}, now)
	assert.True(t, model.IsAuthenticationError(err))

	ok := "https://example.com/feed.ics"
	assert.NoError(t, provider.ValidateConnection(a, model.ProviderConnection{UserID: "u1", FeedURL: &ok}, now),
		"feeds need no access token")
}

func TestAdapter_IsPullOnly(t *testing.T) {
	reg := provider.NewRegistry(New(nil, synclog.New(10, zerolog.Nop())))
	_, ok := reg.Puller(model.ProviderApple)
	assert.True(t, ok)
	_, ok = reg.Pusher(model.ProviderApple)
	assert.False(t, ok)
}
