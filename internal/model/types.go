package model

import "time"

// Provider identifies an external calendar service.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderApple   Provider = "apple"
)

// KnownProviders lists every provider the service can talk to.
var KnownProviders = []Provider{ProviderGoogle, ProviderOutlook, ProviderApple}

// IsValid reports whether p is a known provider.
func (p Provider) IsValid() bool {
	for _, k := range KnownProviders {
		if p == k {
			return true
		}
	}
	return false
}

// Action is the kind of local mutation being pushed to a provider.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// LocalEvent is an event owned by the local calendar store.
type LocalEvent struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Location       *string   `json:"location,omitempty"`
	AllDay         bool      `json:"allDay"`
	CalendarID     int64     `json:"calendarId"`
	UserID         string    `json:"userId"`
	RecurrenceRule *string   `json:"recurrenceRule,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LocalCalendar groups events for one user.
type LocalCalendar struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	UserID    string    `json:"userId"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExternalEventMapping links a local event to its id at one provider.
type ExternalEventMapping struct {
	EventID    int64     `json:"eventId"`
	UserID     string    `json:"userId,omitempty"`
	Provider   Provider  `json:"provider"`
	ExternalID string    `json:"externalId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ExternalCalendarMapping links a local calendar to a provider calendar.
type ExternalCalendarMapping struct {
	CalendarID         int64     `json:"calendarId"`
	Provider           Provider  `json:"provider"`
	ExternalCalendarID string    `json:"externalCalendarId"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ProviderConnection is the credential bundle written by the OAuth collaborator.
// The sync core only reads AccessToken (and FeedURL for feed providers).
type ProviderConnection struct {
	UserID       string     `json:"userId"`
	Provider     Provider   `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	FeedURL      *string    `json:"feedUrl,omitempty"`
	Active       bool       `json:"active"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Expired reports whether the access token is past its expiry at now.
func (c ProviderConnection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// NormalizedEvent is the provider-agnostic shape handed from pull to the local store.
type NormalizedEvent struct {
	ExternalID     string    `json:"externalId"`
	Provider       Provider  `json:"provider"`
	Title          string    `json:"title"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Description    *string   `json:"description"`
	Location       *string   `json:"location"`
	AllDay         bool      `json:"allDay"`
	UserID         string    `json:"userId"`
	CalendarID     int64     `json:"calendarId"`
	RecurrenceRule *string   `json:"recurrenceRule"`
}

// LogLevel is the severity of a sync log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// SyncLogEntry records the outcome of one sync operation.
type SyncLogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Operation string         `json:"operation"`
	Provider  Provider       `json:"provider"`
	UserID    string         `json:"userId"`
	EventID   *int64         `json:"eventId,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DefaultEventTitle is used whenever an event carries no title.
const DefaultEventTitle = "Untitled Event"
