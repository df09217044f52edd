package services

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/mapping"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/pushqueue"
	"github.com/mycelian/calsync/internal/store"
	"github.com/mycelian/calsync/internal/store/sqlite"
	"github.com/mycelian/calsync/internal/store/sqlstore"
)

type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingSyncer) SyncOut(_ context.Context, userID string, ev model.LocalEvent, action model.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID+":"+string(action)+":"+ev.Title)
	return r.err
}

func (r *recordingSyncer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type env struct {
	st        *sqlstore.Store
	mappings  *mapping.Store
	events    *EventService
	calendars *CalendarService
	conns     *ConnectionService
	cal       *model.LocalCalendar
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.DB().Close() })

	m := mapping.New(st, zerolog.Nop())
	e := &env{
		st:        st,
		mappings:  m,
		events:    NewEventService(st, m, zerolog.Nop()),
		calendars: NewCalendarService(st),
		conns:     NewConnectionService(st),
	}
	e.cal, err = e.calendars.EnsureDefaultCalendar(context.Background(), "u1")
	require.NoError(t, err)
	return e
}

func at(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

func TestCreateEvent_DefaultsAndValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ev, err := e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "  ", StartTime: at(9, 0)})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultEventTitle, ev.Title)
	assert.Equal(t, e.cal.ID, ev.CalendarID, "default calendar is used when none is given")
	assert.True(t, ev.EndTime.Equal(ev.StartTime))

	_, err = e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "x", StartTime: at(10, 0), EndTime: at(9, 0)})
	assert.ErrorIs(t, err, model.ErrValidation)

	bad := "FREQ=SOMETIMES"
	_, err = e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "x", StartTime: at(9, 0), RecurrenceRule: &bad})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "x", StartTime: at(9, 0), CalendarID: e.cal.ID + 100})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "nobody", Title: "x", StartTime: at(9, 0)})
	var ve model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "calendarId", ve.Field)
}

func TestEventService_SyncsInlineAndSurvivesSyncFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sy := &recordingSyncer{err: errors.New("every provider down")}
	e.events.AttachSyncer(sy, nil)

	ev, err := e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "Standup", StartTime: at(9, 0), EndTime: at(9, 30)})
	require.NoError(t, err, "sync failure never fails the local write")

	ev.Title = "Standup v2"
	_, err = e.events.UpdateEvent(ctx, ev)
	require.NoError(t, err)
	require.NoError(t, e.events.DeleteEvent(ctx, "u1", ev.ID))

	assert.Equal(t, []string{"u1:create:Standup", "u1:update:Standup v2", "u1:delete:Standup v2"}, sy.snapshot())
	_, err = e.events.GetEvent(ctx, "u1", ev.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEventService_QueuedSyncKeepsOrderPerEvent(t *testing.T) {
	e := newEnv(t)
	sy := &recordingSyncer{}
	q := pushqueue.New(pushqueue.Config{Shards: 2}, zerolog.Nop())
	defer q.Stop()
	e.events.AttachSyncer(sy, q)

	ctx, cancel := context.WithCancel(context.Background())
	ev, err := e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "A", StartTime: at(9, 0)})
	require.NoError(t, err)
	ev.Title = "B"
	_, err = e.events.UpdateEvent(ctx, ev)
	require.NoError(t, err)
	cancel() // request ends; queued syncs still run

	require.NoError(t, q.Barrier(context.Background(), strconv.FormatInt(ev.ID, 10)))
	assert.Equal(t, []string{"u1:create:A", "u1:update:B"}, sy.snapshot())
}

func TestUpsertNormalized_DedupPolicy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	loc := "Room 1"
	ne := model.NormalizedEvent{
		ExternalID: "ext-1", Provider: model.ProviderGoogle, Title: "Review",
		StartTime: at(14, 0), EndTime: at(15, 0), Location: &loc, UserID: "u1", CalendarID: e.cal.ID,
	}

	created, err := e.events.UpsertNormalized(ctx, ne)
	require.NoError(t, err)
	assert.True(t, created)
	id, ok, err := e.mappings.FindEventID(ctx, "u1", model.ProviderGoogle, "ext-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Same external id with new content updates the row in place.
	ne.Title = "Review (moved)"
	ne.StartTime, ne.EndTime = at(16, 0), at(17, 0)
	created, err = e.events.UpsertNormalized(ctx, ne)
	require.NoError(t, err)
	assert.False(t, created)
	got, err := e.events.GetEvent(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "Review (moved)", got.Title)
	assert.True(t, got.StartTime.Equal(at(16, 0)))

	// Identical event from another provider is a duplicate and gets linked.
	other := ne
	other.Provider, other.ExternalID = model.ProviderOutlook, "AAMk-1"
	_, err = e.events.UpsertNormalized(ctx, other)
	require.True(t, model.IsDuplicateEventError(err))
	assert.ErrorIs(t, err, model.ErrConflict)
	linked, ok, err := e.mappings.GetExternalID(ctx, id, model.ProviderOutlook)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAMk-1", linked)

	events, err := e.events.ListEvents(ctx, listAll("u1"))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpsertNormalized_DoesNotResurrectDeletedEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, err := e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "Gone", StartTime: at(9, 0), EndTime: at(10, 0)})
	require.NoError(t, err)
	require.NoError(t, e.mappings.StoreExternalID(ctx, ev.ID, model.ProviderOutlook, "AAMk-gone"))
	require.NoError(t, e.events.DeleteEvent(ctx, "u1", ev.ID))

	_, err = e.events.UpsertNormalized(ctx, model.NormalizedEvent{
		ExternalID: "AAMk-gone", Provider: model.ProviderOutlook, Title: "Gone",
		StartTime: at(9, 0), EndTime: at(10, 0), UserID: "u1", CalendarID: e.cal.ID,
	})
	assert.ErrorIs(t, err, model.ErrConflict)
	events, err := e.events.ListEvents(ctx, listAll("u1"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUpsertNormalized_SameExternalIDForTwoUsers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cal2, err := e.calendars.EnsureDefaultCalendar(ctx, "u2")
	require.NoError(t, err)

	ne := model.NormalizedEvent{
		ExternalID: "holiday-uid@feed", Provider: model.ProviderApple, Title: "Holiday",
		StartTime: at(0, 0), EndTime: at(0, 0).AddDate(0, 0, 1), AllDay: true, UserID: "u1", CalendarID: e.cal.ID,
	}
	created, err := e.events.UpsertNormalized(ctx, ne)
	require.NoError(t, err)
	assert.True(t, created)

	ne.UserID, ne.CalendarID = "u2", cal2.ID
	created, err = e.events.UpsertNormalized(ctx, ne)
	require.NoError(t, err, "another user's copy of the feed event is not a tombstone")
	assert.True(t, created)

	for _, user := range []string{"u1", "u2"} {
		events, err := e.events.ListEvents(ctx, listAll(user))
		require.NoError(t, err)
		require.Len(t, events, 1, user)
		assert.Equal(t, "Holiday", events[0].Title)
	}

	// A second pull for u2 updates its own row only.
	ne.Title = "Holiday (observed)"
	created, err = e.events.UpsertNormalized(ctx, ne)
	require.NoError(t, err)
	assert.False(t, created)
	u1, err := e.events.ListEvents(ctx, listAll("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Holiday", u1[0].Title)
}

func TestListOccurrences_ExpandsWeeklyRule(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rule := "RRULE:FREQ=WEEKLY;COUNT=4"
	_, err := e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "Weekly", StartTime: at(9, 0), EndTime: at(10, 0), RecurrenceRule: &rule})
	require.NoError(t, err)
	_, err = e.events.CreateEvent(ctx, &model.LocalEvent{UserID: "u1", Title: "Once", StartTime: at(12, 0), EndTime: at(13, 0)})
	require.NoError(t, err)

	occ, err := e.events.ListOccurrences(ctx, "u1", at(0, 0), at(0, 0).AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, "Weekly", occ[0].Title)
	assert.Equal(t, "Once", occ[1].Title)
	assert.True(t, occ[2].StartTime.Equal(at(9, 0).AddDate(0, 0, 7)))
	assert.True(t, occ[3].Recurring)

	_, err = e.events.ListOccurrences(ctx, "u1", at(1, 0), at(0, 0))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCalendarService_FirstCalendarIsDefault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	assert.True(t, e.cal.IsDefault)
	assert.Equal(t, "Personal", e.cal.Name)

	again, err := e.calendars.EnsureDefaultCalendar(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, e.cal.ID, again.ID)

	work, err := e.calendars.CreateCalendar(ctx, &model.LocalCalendar{UserID: "u1", Name: "Work"})
	require.NoError(t, err)
	assert.False(t, work.IsDefault)

	_, err = e.calendars.CreateCalendar(ctx, &model.LocalCalendar{UserID: "u1"})
	assert.ErrorIs(t, err, model.ErrValidation)

	cals, err := e.calendars.GetCalendars(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cals, 2)
}

func TestConnectionService(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.conns.PutConnection(ctx, &model.ProviderConnection{UserID: "u1", Provider: "yahoo", AccessToken: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = e.conns.PutConnection(ctx, &model.ProviderConnection{UserID: "u1", Provider: model.ProviderGoogle})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = e.conns.PutConnection(ctx, &model.ProviderConnection{UserID: "u1", Provider: model.ProviderApple})
	assert.ErrorIs(t, err, model.ErrValidation)

	c, err := e.conns.PutConnection(ctx, &model.ProviderConnection{UserID: "u1", Provider: model.ProviderGoogle, AccessToken: "tok"})
	require.NoError(t, err)
	assert.True(t, c.Active)

	require.NoError(t, e.conns.DisconnectProvider(ctx, "u1", model.ProviderGoogle))
	conns, err := e.conns.ListConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.False(t, conns[0].Active)
}

func listAll(userID string) store.ListEventsRequest {
	return store.ListEventsRequest{UserID: userID}
}
