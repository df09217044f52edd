package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("Calendars", func(t *testing.T) { testCalendars(t, makeStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, makeStore(t)) })
	t.Run("EventMappings", func(t *testing.T) { testEventMappings(t, makeStore(t)) })
	t.Run("CalendarMappings", func(t *testing.T) { testCalendarMappings(t, makeStore(t)) })
	t.Run("Connections", func(t *testing.T) { testConnections(t, makeStore(t)) })
}

func newUser() string { return "u-" + uuid.New().String() }

func testCalendars(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser()

	_, err := s.Calendars().Default(ctx, userID)
	assert.True(t, errors.Is(err, model.ErrNotFound), "empty user has no default: %v", err)

	first, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: userID, Name: "Work", Color: "#f00"})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: userID, Name: "Personal", IsDefault: true})
	require.NoError(t, err)

	got, err := s.Calendars().Get(ctx, userID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Work", got.Name)
	assert.Equal(t, "#f00", got.Color)

	_, err = s.Calendars().Get(ctx, "someone-else", first.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	lst, err := s.Calendars().List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, lst, 2)
	assert.Equal(t, first.ID, lst[0].ID)

	def, err := s.Calendars().Default(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID, "flagged default wins over oldest")

	other := newUser()
	oldest, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: other, Name: "A"})
	require.NoError(t, err)
	_, err = s.Calendars().Create(ctx, &model.LocalCalendar{UserID: other, Name: "B"})
	require.NoError(t, err)
	def, err = s.Calendars().Default(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, def.ID, "oldest calendar when none is flagged")
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser()
	cal, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: userID, Name: "Personal", IsDefault: true})
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	desc := "weekly sync"
	e, err := s.Events().Create(ctx, &model.LocalEvent{
		UserID: userID, CalendarID: cal.ID, Title: "Standup",
		Description: &desc, StartTime: start, EndTime: start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.NotZero(t, e.ID)

	got, err := s.Events().Get(ctx, userID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)
	assert.Nil(t, got.Location)
	assert.True(t, start.Equal(got.StartTime))
	assert.False(t, got.AllDay)

	dup, err := s.Events().FindIdentical(ctx, &model.LocalEvent{
		UserID: userID, CalendarID: cal.ID, Title: "Standup", StartTime: start, EndTime: start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, e.ID, dup.ID)

	_, err = s.Events().FindIdentical(ctx, &model.LocalEvent{
		UserID: userID, CalendarID: cal.ID, Title: "Standup", StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour),
	})
	assert.ErrorIs(t, err, model.ErrNotFound)

	got.Title = "Daily standup"
	got.AllDay = true
	upd, err := s.Events().Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Daily standup", upd.Title)
	assert.True(t, upd.AllDay)

	later := start.Add(48 * time.Hour)
	_, err = s.Events().Create(ctx, &model.LocalEvent{UserID: userID, CalendarID: cal.ID, Title: "Later", StartTime: later, EndTime: later.Add(time.Hour)})
	require.NoError(t, err)

	all, err := s.Events().List(ctx, store.ListEventsRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, e.ID, all[0].ID, "ordered by start time")

	window, err := s.Events().List(ctx, store.ListEventsRequest{UserID: userID, From: later.Add(-time.Hour), To: later.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "Later", window[0].Title)

	require.NoError(t, s.Events().Delete(ctx, userID, e.ID))
	_, err = s.Events().Get(ctx, userID, e.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.Events().Delete(ctx, userID, e.ID), model.ErrNotFound)
}

func testEventMappings(t *testing.T, s store.Store) {
	ctx := context.Background()
	eventID := int64(uuid.New().ID())

	_, err := s.EventMappings().Get(ctx, eventID, model.ProviderOutlook)
	assert.ErrorIs(t, err, model.ErrNotFound)

	inserted, err := s.EventMappings().Insert(ctx, &model.ExternalEventMapping{EventID: eventID, Provider: model.ProviderOutlook, ExternalID: "A"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.EventMappings().Insert(ctx, &model.ExternalEventMapping{EventID: eventID, Provider: model.ProviderOutlook, ExternalID: "B"})
	require.NoError(t, err)
	assert.False(t, inserted, "insert keeps the first write")

	m, err := s.EventMappings().Get(ctx, eventID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, "A", m.ExternalID)

	require.NoError(t, s.EventMappings().Upsert(ctx, &model.ExternalEventMapping{EventID: eventID, Provider: model.ProviderOutlook, ExternalID: "C"}))
	m, err = s.EventMappings().Get(ctx, eventID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, "C", m.ExternalID)
	assert.False(t, m.UpdatedAt.Before(m.CreatedAt))

	require.NoError(t, s.EventMappings().Upsert(ctx, &model.ExternalEventMapping{EventID: eventID, UserID: "map-owner", Provider: model.ProviderGoogle, ExternalID: "g-1"}))

	found, err := s.EventMappings().FindByExternalID(ctx, "map-owner", model.ProviderGoogle, "g-1")
	require.NoError(t, err)
	assert.Equal(t, eventID, found.EventID)
	assert.Equal(t, "map-owner", found.UserID)
	_, err = s.EventMappings().FindByExternalID(ctx, "map-owner", model.ProviderOutlook, "g-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.EventMappings().FindByExternalID(ctx, "someone-else", model.ProviderGoogle, "g-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "reverse lookup is per user")

	lst, err := s.EventMappings().List(ctx, eventID)
	require.NoError(t, err)
	assert.Len(t, lst, 2)

	require.NoError(t, s.EventMappings().Delete(ctx, eventID, model.ProviderOutlook))
	_, err = s.EventMappings().Get(ctx, eventID, model.ProviderOutlook)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.EventMappings().Get(ctx, eventID, model.ProviderGoogle)
	assert.NoError(t, err, "other provider untouched")

	require.NoError(t, s.EventMappings().DeleteAll(ctx, eventID))
	lst, err = s.EventMappings().List(ctx, eventID)
	require.NoError(t, err)
	assert.Empty(t, lst)
}

func testCalendarMappings(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser()
	cal1, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: userID, Name: "One"})
	require.NoError(t, err)
	cal2, err := s.Calendars().Create(ctx, &model.LocalCalendar{UserID: userID, Name: "Two"})
	require.NoError(t, err)

	_, err = s.CalendarMappings().FirstForUser(ctx, userID, model.ProviderOutlook)
	assert.ErrorIs(t, err, model.ErrNotFound)

	ok, err := s.CalendarMappings().Insert(ctx, &model.ExternalCalendarMapping{CalendarID: cal1.ID, Provider: model.ProviderOutlook, ExternalCalendarID: "X"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CalendarMappings().Insert(ctx, &model.ExternalCalendarMapping{CalendarID: cal1.ID, Provider: model.ProviderOutlook, ExternalCalendarID: "Y"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CalendarMappings().Insert(ctx, &model.ExternalCalendarMapping{CalendarID: cal2.ID, Provider: model.ProviderOutlook, ExternalCalendarID: "Z"})
	require.NoError(t, err)

	m, err := s.CalendarMappings().Get(ctx, cal1.ID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, "X", m.ExternalCalendarID)

	first, err := s.CalendarMappings().FirstForUser(ctx, userID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, cal1.ID, first.CalendarID)

	_, err = s.CalendarMappings().FirstForUser(ctx, newUser(), model.ProviderOutlook)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testConnections(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	refresh := "r-1"

	_, err := s.Connections().Put(ctx, &model.ProviderConnection{
		UserID: userID, Provider: model.ProviderOutlook, AccessToken: "tok-1",
		RefreshToken: &refresh, ExpiresAt: &exp, Active: true,
	})
	require.NoError(t, err)
	feed := "https://example.test/cal.ics"
	_, err = s.Connections().Put(ctx, &model.ProviderConnection{UserID: userID, Provider: model.ProviderApple, AccessToken: "", FeedURL: &feed, Active: true})
	require.NoError(t, err)

	got, err := s.Connections().Get(ctx, userID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.AccessToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, refresh, *got.RefreshToken)

	_, err = s.Connections().Put(ctx, &model.ProviderConnection{UserID: userID, Provider: model.ProviderOutlook, AccessToken: "tok-2", Active: true})
	require.NoError(t, err)
	got, err = s.Connections().Get(ctx, userID, model.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.AccessToken)
	assert.Nil(t, got.ExpiresAt)

	active, err := s.Connections().ListActive(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	users, err := s.Connections().ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, userID)

	require.NoError(t, s.Connections().Deactivate(ctx, userID, model.ProviderOutlook))
	active, err = s.Connections().ListActive(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.ProviderApple, active[0].Provider)

	all, err := s.Connections().List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, s.Connections().Deactivate(ctx, userID, model.ProviderGoogle), model.ErrNotFound)
}
