package store

import (
	"context"
	"time"

	"github.com/mycelian/calsync/internal/model"
)

// Store exposes persistence operations required by services and the sync core.
// Implementations live under internal/store/<driver>/ (sqlite, postgres).
// Lookups that find nothing return an error wrapping model.ErrNotFound.
type Store interface {
	Calendars() Calendars
	Events() Events
	EventMappings() EventMappings
	CalendarMappings() CalendarMappings
	Connections() Connections
}

type Calendars interface {
	Create(ctx context.Context, c *model.LocalCalendar) (*model.LocalCalendar, error)
	Get(ctx context.Context, userID string, calendarID int64) (*model.LocalCalendar, error)
	// List returns the user's calendars oldest first.
	List(ctx context.Context, userID string) ([]*model.LocalCalendar, error)
	// Default returns the calendar flagged default, else the oldest one.
	Default(ctx context.Context, userID string) (*model.LocalCalendar, error)
}

// ListEventsRequest filters Events.List. Zero values mean "no filter".
type ListEventsRequest struct {
	UserID     string
	CalendarID int64
	From       time.Time
	To         time.Time
	Limit      int
}

type Events interface {
	Create(ctx context.Context, e *model.LocalEvent) (*model.LocalEvent, error)
	Get(ctx context.Context, userID string, eventID int64) (*model.LocalEvent, error)
	Update(ctx context.Context, e *model.LocalEvent) (*model.LocalEvent, error)
	Delete(ctx context.Context, userID string, eventID int64) error
	List(ctx context.Context, req ListEventsRequest) ([]*model.LocalEvent, error)
	// FindIdentical returns an event with the same title, start, end, calendar and user.
	FindIdentical(ctx context.Context, e *model.LocalEvent) (*model.LocalEvent, error)
}

type EventMappings interface {
	Get(ctx context.Context, eventID int64, provider model.Provider) (*model.ExternalEventMapping, error)
	// Insert is a no-op when a mapping for (event, provider) exists; it reports whether a row was written.
	Insert(ctx context.Context, m *model.ExternalEventMapping) (bool, error)
	// Upsert overwrites the external id and refreshes updated_at.
	Upsert(ctx context.Context, m *model.ExternalEventMapping) error
	Delete(ctx context.Context, eventID int64, provider model.Provider) error
	DeleteAll(ctx context.Context, eventID int64) error
	// Insert and Upsert record the owning user from the event row, falling back to m.UserID.
	// FindByExternalID only sees mappings owned by userID.
	FindByExternalID(ctx context.Context, userID string, provider model.Provider, externalID string) (*model.ExternalEventMapping, error)
	List(ctx context.Context, eventID int64) ([]*model.ExternalEventMapping, error)
}

type CalendarMappings interface {
	Get(ctx context.Context, calendarID int64, provider model.Provider) (*model.ExternalCalendarMapping, error)
	// FirstForUser returns the oldest mapping for any of the user's calendars at provider.
	FirstForUser(ctx context.Context, userID string, provider model.Provider) (*model.ExternalCalendarMapping, error)
	Insert(ctx context.Context, m *model.ExternalCalendarMapping) (bool, error)
}

type Connections interface {
	Put(ctx context.Context, c *model.ProviderConnection) (*model.ProviderConnection, error)
	Get(ctx context.Context, userID string, provider model.Provider) (*model.ProviderConnection, error)
	List(ctx context.Context, userID string) ([]*model.ProviderConnection, error)
	ListActive(ctx context.Context, userID string) ([]*model.ProviderConnection, error)
	Deactivate(ctx context.Context, userID string, provider model.Provider) error
	// ActiveUsers returns every user id holding at least one active connection.
	ActiveUsers(ctx context.Context) ([]string, error)
}
