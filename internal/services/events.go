package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/mapping"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/pushqueue"
	"github.com/mycelian/calsync/internal/store"
)

// Syncer pushes a committed local mutation to the connected providers.
type Syncer interface {
	SyncOut(ctx context.Context, userID string, ev model.LocalEvent, action model.Action) error
}

// Dispatcher runs jobs in the background, in order per key.
type Dispatcher interface {
	Submit(ctx context.Context, key string, job pushqueue.Job) error
}

// EventService owns local events. Every committed create, update or delete
// is followed by a sync out; a failing sync never fails the local write.
type EventService struct {
	store    store.Store
	mappings *mapping.Store
	log      zerolog.Logger

	mu       sync.RWMutex
	syncer   Syncer
	dispatch Dispatcher
}

func NewEventService(s store.Store, m *mapping.Store, log zerolog.Logger) *EventService {
	return &EventService{store: s, mappings: m, log: log.With().Str("component", "events").Logger()}
}

// AttachSyncer wires outbound sync. With a nil dispatcher the sync runs
// inline, on the caller's context; otherwise it is queued per event on a
// context detached from the request.
func (s *EventService) AttachSyncer(sy Syncer, d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncer = sy
	s.dispatch = d
}

// CreateEvent validates e, fills defaults, stores it and syncs it out.
func (s *EventService) CreateEvent(ctx context.Context, e *model.LocalEvent) (*model.LocalEvent, error) {
	if err := s.prepare(ctx, e); err != nil {
		return nil, err
	}
	created, err := s.store.Events().Create(ctx, e)
	if err != nil {
		return nil, err
	}
	s.syncOut(ctx, *created, model.ActionCreate)
	return created, nil
}

// GetEvent returns one of the user's events.
func (s *EventService) GetEvent(ctx context.Context, userID string, eventID int64) (*model.LocalEvent, error) {
	return s.store.Events().Get(ctx, userID, eventID)
}

// ListEvents lists stored events as stored; recurrences are not expanded.
func (s *EventService) ListEvents(ctx context.Context, req store.ListEventsRequest) ([]*model.LocalEvent, error) {
	return s.store.Events().List(ctx, req)
}

// UpdateEvent replaces the mutable fields of an existing event.
func (s *EventService) UpdateEvent(ctx context.Context, e *model.LocalEvent) (*model.LocalEvent, error) {
	existing, err := s.store.Events().Get(ctx, e.UserID, e.ID)
	if err != nil {
		return nil, err
	}
	if e.CalendarID == 0 {
		e.CalendarID = existing.CalendarID
	}
	if err := s.prepare(ctx, e); err != nil {
		return nil, err
	}
	updated, err := s.store.Events().Update(ctx, e)
	if err != nil {
		return nil, err
	}
	s.syncOut(ctx, *updated, model.ActionUpdate)
	return updated, nil
}

// DeleteEvent removes the event locally. Its provider mappings survive until
// the remote deletes succeed.
func (s *EventService) DeleteEvent(ctx context.Context, userID string, eventID int64) error {
	existing, err := s.store.Events().Get(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if err := s.store.Events().Delete(ctx, userID, eventID); err != nil {
		return err
	}
	s.syncOut(ctx, *existing, model.ActionDelete)
	return nil
}

// ListMappings returns the provider ids recorded for one of the user's events.
func (s *EventService) ListMappings(ctx context.Context, userID string, eventID int64) ([]*model.ExternalEventMapping, error) {
	if _, err := s.store.Events().Get(ctx, userID, eventID); err != nil {
		return nil, err
	}
	return s.mappings.ListForEvent(ctx, eventID)
}

// prepare validates e and fills defaults in place.
func (s *EventService) prepare(ctx context.Context, e *model.LocalEvent) error {
	if strings.TrimSpace(e.UserID) == "" {
		return model.NewValidationError("userId", "required")
	}
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		e.Title = model.DefaultEventTitle
	}
	if e.StartTime.IsZero() {
		return model.NewValidationError("startTime", "required")
	}
	if e.EndTime.IsZero() {
		e.EndTime = e.StartTime
		if e.AllDay {
			e.EndTime = e.StartTime.Add(24 * time.Hour)
		}
	}
	if e.EndTime.Before(e.StartTime) {
		return model.NewValidationError("endTime", "must not be before startTime")
	}
	if e.RecurrenceRule != nil {
		rule := strings.TrimSpace(*e.RecurrenceRule)
		if rule == "" {
			e.RecurrenceRule = nil
		} else {
			if _, err := ParseRecurrence(rule, e.StartTime); err != nil {
				return model.NewValidationError("recurrenceRule", err.Error())
			}
			e.RecurrenceRule = &rule
		}
	}

	if e.CalendarID == 0 {
		cal, err := s.store.Calendars().Default(ctx, e.UserID)
		if errors.Is(err, model.ErrNotFound) {
			return model.NewValidationError("calendarId", "user has no calendars")
		}
		if err != nil {
			return err
		}
		e.CalendarID = cal.ID
		return nil
	}
	if _, err := s.store.Calendars().Get(ctx, e.UserID, e.CalendarID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewValidationError("calendarId", "calendar not found")
		}
		return err
	}
	return nil
}

func (s *EventService) collaborators() (Syncer, Dispatcher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncer, s.dispatch
}

func (s *EventService) syncOut(ctx context.Context, ev model.LocalEvent, action model.Action) {
	sy, d := s.collaborators()
	if sy == nil {
		return
	}
	job := pushqueue.JobFunc(func(ctx context.Context) error {
		return sy.SyncOut(ctx, ev.UserID, ev, action)
	})
	if d == nil {
		if err := job(ctx); err != nil {
			s.log.Warn().Err(err).Int64("event_id", ev.ID).Str("action", string(action)).Msg("sync out failed")
		}
		return
	}
	if err := d.Submit(context.WithoutCancel(ctx), strconv.FormatInt(ev.ID, 10), job); err != nil {
		s.log.Error().Err(err).Int64("event_id", ev.ID).Str("action", string(action)).Msg("could not queue sync out")
	}
}

// UpsertNormalized stores one pulled event. An event already mapped to the
// same external id is updated in place; an identical local event (title,
// start, end, calendar, user) is linked and reported as *DuplicateEventError;
// anything else is created and mapped. Skips are reported as errors wrapping
// model.ErrConflict. Inbound writes are never synced out.
func (s *EventService) UpsertNormalized(ctx context.Context, ne model.NormalizedEvent) (bool, error) {
	if ne.ExternalID == "" || !ne.Provider.IsValid() {
		return false, model.NewValidationError("externalId", "pulled event carries no provider id")
	}

	eventID, ok, err := s.mappings.FindEventID(ctx, ne.UserID, ne.Provider, ne.ExternalID)
	if err != nil {
		return false, err
	}
	if ok {
		existing, err := s.store.Events().Get(ctx, ne.UserID, eventID)
		switch {
		case err == nil:
			return false, s.refresh(ctx, existing, ne)
		case errors.Is(err, model.ErrNotFound):
			// Deleted locally with the remote delete still pending; do not resurrect it.
			return false, fmt.Errorf("%s event %s maps to deleted event %d: %w", ne.Provider, ne.ExternalID, eventID, model.ErrConflict)
		default:
			return false, err
		}
	}

	candidate := fromNormalized(ne)
	dup, err := s.store.Events().FindIdentical(ctx, candidate)
	switch {
	case err == nil:
		if err := s.mappings.StoreExternalID(ctx, dup.ID, ne.Provider, ne.ExternalID); err != nil {
			return false, err
		}
		return false, &model.DuplicateEventError{ExistingID: dup.ID, Title: dup.Title, StartTime: dup.StartTime}
	case !errors.Is(err, model.ErrNotFound):
		return false, err
	}

	created, err := s.store.Events().Create(ctx, candidate)
	if err != nil {
		return false, err
	}
	if err := s.mappings.StoreExternalID(ctx, created.ID, ne.Provider, ne.ExternalID); err != nil {
		return false, fmt.Errorf("map imported event %d: %w", created.ID, err)
	}
	return true, nil
}

func (s *EventService) refresh(ctx context.Context, existing *model.LocalEvent, ne model.NormalizedEvent) error {
	next := *existing
	next.Title = ne.Title
	next.Description = ne.Description
	next.Location = ne.Location
	next.StartTime = ne.StartTime
	next.EndTime = ne.EndTime
	next.AllDay = ne.AllDay
	if sameContent(existing, &next) {
		return nil
	}
	_, err := s.store.Events().Update(ctx, &next)
	return err
}

func sameContent(a, b *model.LocalEvent) bool {
	return a.Title == b.Title &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.AllDay == b.AllDay &&
		strPtrEqual(a.Description, b.Description) &&
		strPtrEqual(a.Location, b.Location)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func fromNormalized(ne model.NormalizedEvent) *model.LocalEvent {
	title := ne.Title
	if strings.TrimSpace(title) == "" {
		title = model.DefaultEventTitle
	}
	return &model.LocalEvent{
		Title:       title,
		Description: ne.Description,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		Location:    ne.Location,
		AllDay:      ne.AllDay,
		CalendarID:  ne.CalendarID,
		UserID:      ne.UserID,
	}
}
