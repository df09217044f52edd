// Package mapping records which remote object corresponds to each local event
// and calendar, per provider.
package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

// Store is the external id mapping store. All writes go straight through to storage.
type Store struct {
	st  store.Store
	log zerolog.Logger
}

// New returns a mapping store backed by st.
func New(st store.Store, log zerolog.Logger) *Store {
	return &Store{st: st, log: log.With().Str("component", "mapping").Logger()}
}

// GetExternalID returns the provider's id for a local event, or ok=false when the
// event was never synced to that provider.
func (s *Store) GetExternalID(ctx context.Context, eventID int64, provider model.Provider) (string, bool, error) {
	m, err := s.st.EventMappings().Get(ctx, eventID, provider)
	if errors.Is(err, model.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get external id for event %d/%s: %w", eventID, provider, err)
	}
	return m.ExternalID, true, nil
}

// StoreExternalID records a mapping. An existing mapping for (event, provider) is kept.
func (s *Store) StoreExternalID(ctx context.Context, eventID int64, provider model.Provider, externalID string) error {
	inserted, err := s.st.EventMappings().Insert(ctx, &model.ExternalEventMapping{EventID: eventID, Provider: provider, ExternalID: externalID})
	if err != nil {
		return fmt.Errorf("store external id for event %d/%s: %w", eventID, provider, err)
	}
	if !inserted {
		s.log.Debug().Int64("event_id", eventID).Str("provider", string(provider)).Msg("mapping already present; keeping first write")
	}
	return nil
}

// UpdateExternalID overwrites (or creates) the mapping for (event, provider).
func (s *Store) UpdateExternalID(ctx context.Context, eventID int64, provider model.Provider, externalID string) error {
	if err := s.st.EventMappings().Upsert(ctx, &model.ExternalEventMapping{EventID: eventID, Provider: provider, ExternalID: externalID}); err != nil {
		return fmt.Errorf("update external id for event %d/%s: %w", eventID, provider, err)
	}
	return nil
}

// RemoveExternalID deletes the mapping for one provider, or every provider's
// mapping of the event when provider is empty.
func (s *Store) RemoveExternalID(ctx context.Context, eventID int64, provider model.Provider) error {
	var err error
	if provider == "" {
		err = s.st.EventMappings().DeleteAll(ctx, eventID)
	} else {
		err = s.st.EventMappings().Delete(ctx, eventID, provider)
	}
	if err != nil {
		return fmt.Errorf("remove external id for event %d/%s: %w", eventID, provider, err)
	}
	return nil
}

// FindEventID is the reverse lookup: the user's local event a provider id
// belongs to. Users sharing a remote event (feed subscribers, attendees) each
// resolve to their own copy.
func (s *Store) FindEventID(ctx context.Context, userID string, provider model.Provider, externalID string) (int64, bool, error) {
	m, err := s.st.EventMappings().FindByExternalID(ctx, userID, provider, externalID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find event for %s %s/%s: %w", userID, provider, externalID, err)
	}
	return m.EventID, true, nil
}

// ListForEvent returns every provider mapping of a local event.
func (s *Store) ListForEvent(ctx context.Context, eventID int64) ([]*model.ExternalEventMapping, error) {
	return s.st.EventMappings().List(ctx, eventID)
}

// MapExternalCalendarToLocal resolves the local calendar that receives events
// pulled from provider for userID.
//
// A user has at most one effective calendar per provider: if any mapping exists
// for (userID, provider) it is returned whatever externalCalendarID is passed.
// Otherwise the user's default calendar (or oldest, when none is flagged) is
// adopted and the mapping recorded. ok is false only when the user has no calendars.
func (s *Store) MapExternalCalendarToLocal(ctx context.Context, userID string, provider model.Provider, externalCalendarID string) (int64, bool, error) {
	existing, err := s.st.CalendarMappings().FirstForUser(ctx, userID, provider)
	if err == nil {
		if existing.ExternalCalendarID != externalCalendarID {
			s.log.Debug().
				Str("user_id", userID).
				Str("provider", string(provider)).
				Str("external_calendar_id", externalCalendarID).
				Int64("calendar_id", existing.CalendarID).
				Msg("collapsing external calendar onto existing mapping")
		}
		return existing.CalendarID, true, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return 0, false, fmt.Errorf("lookup calendar mapping for %s/%s: %w", userID, provider, err)
	}

	cal, err := s.st.Calendars().Default(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("default calendar for %s: %w", userID, err)
	}

	if _, err := s.st.CalendarMappings().Insert(ctx, &model.ExternalCalendarMapping{
		CalendarID:         cal.ID,
		Provider:           provider,
		ExternalCalendarID: externalCalendarID,
	}); err != nil {
		return 0, false, fmt.Errorf("insert calendar mapping for %s/%s: %w", userID, provider, err)
	}
	return cal.ID, true, nil
}

// GetExternalCalendarID returns the provider calendar mapped to a local calendar.
func (s *Store) GetExternalCalendarID(ctx context.Context, calendarID int64, provider model.Provider) (string, bool, error) {
	m, err := s.st.CalendarMappings().Get(ctx, calendarID, provider)
	if errors.Is(err, model.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get external calendar for %d/%s: %w", calendarID, provider, err)
	}
	return m.ExternalCalendarID, true, nil
}
