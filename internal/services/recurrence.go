package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

// maxOccurrencesPerEvent caps expansion of open-ended rules.
const maxOccurrencesPerEvent = 500

// ParseRecurrence reads an RFC 5545 RRULE value, with or without the
// "RRULE:" prefix, anchored at dtstart.
func ParseRecurrence(rule string, dtstart time.Time) (*rrule.RRule, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(strings.TrimPrefix(rule, "RRULE:"), "rrule:")
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// Occurrence is one instance of an event inside a listing window.
type Occurrence struct {
	EventID   int64     `json:"eventId"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	AllDay    bool      `json:"allDay"`
	Recurring bool      `json:"recurring"`
}

// ListOccurrences expands the user's events into concrete instances that
// overlap [from, to), recurring events included. Events whose rule no longer
// parses are listed once at their own start.
func (s *EventService) ListOccurrences(ctx context.Context, userID string, from, to time.Time) ([]Occurrence, error) {
	if !to.After(from) {
		return nil, model.NewValidationError("to", "must be after from")
	}
	events, err := s.store.Events().List(ctx, store.ListEventsRequest{UserID: userID})
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for _, e := range events {
		out = append(out, s.expand(e, from, to)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (s *EventService) expand(e *model.LocalEvent, from, to time.Time) []Occurrence {
	single := func(start, end time.Time, recurring bool) Occurrence {
		return Occurrence{EventID: e.ID, Title: e.Title, StartTime: start, EndTime: end, AllDay: e.AllDay, Recurring: recurring}
	}
	overlaps := func(start, end time.Time) bool {
		return start.Before(to) && (end.After(from) || (end.Equal(start) && !start.Before(from)))
	}

	if e.RecurrenceRule == nil {
		if overlaps(e.StartTime, e.EndTime) {
			return []Occurrence{single(e.StartTime, e.EndTime, false)}
		}
		return nil
	}

	r, err := ParseRecurrence(*e.RecurrenceRule, e.StartTime)
	if err != nil {
		s.log.Warn().Err(err).Int64("event_id", e.ID).Msg("unparseable recurrence rule")
		if overlaps(e.StartTime, e.EndTime) {
			return []Occurrence{single(e.StartTime, e.EndTime, false)}
		}
		return nil
	}

	dur := e.EndTime.Sub(e.StartTime)
	// Widen the window by the duration so instances that started earlier but
	// still overlap from are kept.
	starts := r.Between(from.Add(-dur), to, true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}
	out := make([]Occurrence, 0, len(starts))
	for _, st := range starts {
		st = st.UTC()
		end := st.Add(dur)
		if overlaps(st, end) {
			out = append(out, single(st, end, true))
		}
	}
	return out
}
