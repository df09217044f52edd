package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/synclog"
)

// Mappings is the slice of the mapping store adapters need.
type Mappings interface {
	GetExternalID(ctx context.Context, eventID int64, provider model.Provider) (string, bool, error)
	StoreExternalID(ctx context.Context, eventID int64, provider model.Provider, externalID string) error
	RemoveExternalID(ctx context.Context, eventID int64, provider model.Provider) error
	MapExternalCalendarToLocal(ctx context.Context, userID string, provider model.Provider, externalCalendarID string) (int64, bool, error)
	GetExternalCalendarID(ctx context.Context, calendarID int64, provider model.Provider) (string, bool, error)
}

// RemoteWriter performs the raw provider calls behind a push.
type RemoteWriter interface {
	Named
	// CreateEvent creates ev remotely, in externalCalendarID when non-empty,
	// and returns the provider's id for it.
	CreateEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, externalCalendarID string) (string, error)
	UpdateEvent(ctx context.Context, conn model.ProviderConnection, externalID string, ev model.LocalEvent) error
	DeleteEvent(ctx context.Context, conn model.ProviderConnection, externalID string, ev model.LocalEvent) error
}

// RemoteEvent is the decoded, provider-neutral form of one listed item.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// RemoteLister performs the raw provider calls behind a pull.
type RemoteLister interface {
	Named
	// PrimaryCalendarID names the remote calendar events are listed from.
	PrimaryCalendarID(ctx context.Context, conn model.ProviderConnection) (string, error)
	ListEvents(ctx context.Context, conn model.ProviderConnection, externalCalendarID string) ([]RemoteEvent, error)
}

const (
	opPush = "push"
	opPull = "pull"
)

// PushEvent drives one outbound mutation through r.
//
// create stores the returned external id. update and delete resolve the
// existing id first; with no mapping they log a warning and return nil without
// calling the provider. delete drops the mapping once the remote call succeeds
// or the provider reports the event already gone.
func PushEvent(ctx context.Context, m Mappings, logs *synclog.Logger, r RemoteWriter, conn model.ProviderConnection, ev model.LocalEvent, action model.Action) error {
	p := r.Provider()
	switch action {
	case model.ActionCreate:
		extCal, _, err := m.GetExternalCalendarID(ctx, ev.CalendarID, p)
		if err != nil {
			return err
		}
		extID, err := r.CreateEvent(ctx, conn, ev, extCal)
		if err != nil {
			return err
		}
		if err := m.StoreExternalID(ctx, ev.ID, p, extID); err != nil {
			return fmt.Errorf("record %s id %s for event %d: %w", p, extID, ev.ID, err)
		}
		logs.Info(opPush, p, ev.UserID, "created remote event",
			synclog.WithEventID(ev.ID), synclog.WithMetadata("externalId", extID))
		return nil

	case model.ActionUpdate, model.ActionDelete:
		extID, ok, err := m.GetExternalID(ctx, ev.ID, p)
		if err != nil {
			return err
		}
		if !ok {
			nf := &model.MappingNotFoundError{EventID: ev.ID, Provider: p}
			logs.Warn(opPush, p, ev.UserID, "no external mapping; nothing to "+string(action),
				synclog.WithEventID(ev.ID), synclog.WithError(nf), synclog.WithMetadata("action", string(action)))
			return nil
		}
		if action == model.ActionUpdate {
			if err := r.UpdateEvent(ctx, conn, extID, ev); err != nil {
				return err
			}
			logs.Info(opPush, p, ev.UserID, "updated remote event",
				synclog.WithEventID(ev.ID), synclog.WithMetadata("externalId", extID))
			return nil
		}
		if err := r.DeleteEvent(ctx, conn, extID, ev); err != nil {
			if !IsGone(err) {
				return err
			}
			logs.Warn(opPush, p, ev.UserID, "remote event already gone",
				synclog.WithEventID(ev.ID), synclog.WithError(err), synclog.WithMetadata("externalId", extID))
		}
		if err := m.RemoveExternalID(ctx, ev.ID, p); err != nil {
			return fmt.Errorf("drop %s mapping for event %d: %w", p, ev.ID, err)
		}
		logs.Info(opPush, p, ev.UserID, "deleted remote event",
			synclog.WithEventID(ev.ID), synclog.WithMetadata("externalId", extID))
		return nil
	}
	return fmt.Errorf("unsupported action %q", action)
}

// ErrNoLocalCalendar means pulled events have nowhere to land.
var ErrNoLocalCalendar = errors.New("user has no local calendar")

// PullEvents lists r's events and normalizes them onto the mapped local
// calendar. Every failure is logged and returned as *PullError.
func PullEvents(ctx context.Context, m Mappings, logs *synclog.Logger, r RemoteLister, conn model.ProviderConnection) ([]model.NormalizedEvent, error) {
	p := r.Provider()
	fail := func(err error) ([]model.NormalizedEvent, error) {
		logs.Error(opPull, p, conn.UserID, "pull failed", synclog.WithError(err))
		return nil, &PullError{Provider: p, Err: err}
	}

	extCal, err := r.PrimaryCalendarID(ctx, conn)
	if err != nil {
		return fail(err)
	}
	calendarID, ok, err := m.MapExternalCalendarToLocal(ctx, conn.UserID, p, extCal)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(ErrNoLocalCalendar)
	}

	items, err := r.ListEvents(ctx, conn, extCal)
	if err != nil {
		return fail(err)
	}

	out := make([]model.NormalizedEvent, 0, len(items))
	for _, it := range items {
		out = append(out, Normalize(p, conn.UserID, calendarID, it))
	}
	logs.Info(opPull, p, conn.UserID, "pulled remote events",
		synclog.WithMetadata("count", len(out)), synclog.WithMetadata("externalCalendarId", extCal))
	return out, nil
}

// Normalize applies the inbound field rules to one remote item.
func Normalize(p model.Provider, userID string, calendarID int64, it RemoteEvent) model.NormalizedEvent {
	return model.NormalizedEvent{
		ExternalID:  it.ID,
		Provider:    p,
		Title:       Title(it.Title),
		StartTime:   it.Start.UTC(),
		EndTime:     it.End.UTC(),
		Description: PullString(it.Description),
		Location:    PullString(it.Location),
		AllDay:      it.AllDay,
		UserID:      userID,
		CalendarID:  calendarID,
	}
}
