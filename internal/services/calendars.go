package services

import (
	"context"
	"errors"
	"strings"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

const (
	defaultCalendarName  = "Personal"
	defaultCalendarColor = "#3b82f6"
)

type CalendarService struct {
	store store.Store
}

func NewCalendarService(s store.Store) *CalendarService {
	return &CalendarService{store: s}
}

// GetCalendars lists the user's calendars oldest first.
func (s *CalendarService) GetCalendars(ctx context.Context, userID string) ([]*model.LocalCalendar, error) {
	return s.store.Calendars().List(ctx, userID)
}

// CreateCalendar stores c. A user's first calendar always becomes the default.
func (s *CalendarService) CreateCalendar(ctx context.Context, c *model.LocalCalendar) (*model.LocalCalendar, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return nil, model.NewValidationError("userId", "required")
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, model.NewValidationError("name", "required")
	}
	if c.Color == "" {
		c.Color = defaultCalendarColor
	}
	existing, err := s.store.Calendars().List(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		c.IsDefault = true
	}
	return s.store.Calendars().Create(ctx, c)
}

// EnsureDefaultCalendar returns the user's default calendar, seeding one
// named "Personal" when the user has none.
func (s *CalendarService) EnsureDefaultCalendar(ctx context.Context, userID string) (*model.LocalCalendar, error) {
	cal, err := s.store.Calendars().Default(ctx, userID)
	if err == nil {
		return cal, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return s.CreateCalendar(ctx, &model.LocalCalendar{UserID: userID, Name: defaultCalendarName})
}
