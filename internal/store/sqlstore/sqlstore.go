// Package sqlstore implements store.Store on database/sql. Queries are written
// with '?' placeholders and rebound for drivers that use numbered ones.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

// Placeholder selects the bind variable syntax of the driver.
type Placeholder int

const (
	Question Placeholder = iota // sqlite
	Dollar                      // postgres
)

// New returns a store.Store backed by db.
func New(db *sql.DB, ph Placeholder) *Store {
	return &Store{db: db, ph: ph}
}

// Store is the shared database/sql implementation.
type Store struct {
	db *sql.DB
	ph Placeholder
}

func (s *Store) Calendars() store.Calendars               { return &calendars{s} }
func (s *Store) Events() store.Events                     { return &events{s} }
func (s *Store) EventMappings() store.EventMappings       { return &eventMappings{s} }
func (s *Store) CalendarMappings() store.CalendarMappings { return &calendarMappings{s} }
func (s *Store) Connections() store.Connections           { return &connections{s} }

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for callers that need to close it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) rebind(q string) string {
	if s.ph == Question {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// ts normalizes timestamps so equality comparisons agree across drivers.
func ts(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func tsPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := ts(*t)
	return &v
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}

// --- Calendars ---
type calendars struct{ s *Store }

const calendarCols = `id, user_id, name, color, is_default, created_at`

func scanCalendar(sc interface{ Scan(...any) error }) (*model.LocalCalendar, error) {
	var c model.LocalCalendar
	if err := sc.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.IsDefault, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (c *calendars) Create(ctx context.Context, in *model.LocalCalendar) (*model.LocalCalendar, error) {
	out := *in
	out.CreatedAt = ts(time.Now())
	row := c.s.queryRow(ctx, `
        INSERT INTO calendars (user_id, name, color, is_default, created_at)
        VALUES (?,?,?,?,?)
        RETURNING id
    `, out.UserID, out.Name, out.Color, out.IsDefault, out.CreatedAt)
	if err := row.Scan(&out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *calendars) Get(ctx context.Context, userID string, calendarID int64) (*model.LocalCalendar, error) {
	row := c.s.queryRow(ctx, `SELECT `+calendarCols+` FROM calendars WHERE user_id=? AND id=?`, userID, calendarID)
	cal, err := scanCalendar(row)
	if err != nil {
		return nil, notFound(err, "calendar")
	}
	return cal, nil
}

func (c *calendars) List(ctx context.Context, userID string) ([]*model.LocalCalendar, error) {
	rows, err := c.s.query(ctx, `SELECT `+calendarCols+` FROM calendars WHERE user_id=? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.LocalCalendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cal)
	}
	return res, rows.Err()
}

func (c *calendars) Default(ctx context.Context, userID string) (*model.LocalCalendar, error) {
	row := c.s.queryRow(ctx, `
        SELECT `+calendarCols+` FROM calendars WHERE user_id=?
        ORDER BY is_default DESC, created_at ASC, id ASC
        LIMIT 1
    `, userID)
	cal, err := scanCalendar(row)
	if err != nil {
		return nil, notFound(err, "default calendar")
	}
	return cal, nil
}

// --- Events ---
type events struct{ s *Store }

const eventCols = `id, user_id, calendar_id, title, description, start_time, end_time, location, all_day, recurrence_rule, created_at, updated_at`

func scanEvent(sc interface{ Scan(...any) error }) (*model.LocalEvent, error) {
	var e model.LocalEvent
	if err := sc.Scan(&e.ID, &e.UserID, &e.CalendarID, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
		&e.Location, &e.AllDay, &e.RecurrenceRule, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.StartTime = e.StartTime.UTC()
	e.EndTime = e.EndTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (ev *events) Create(ctx context.Context, in *model.LocalEvent) (*model.LocalEvent, error) {
	out := *in
	now := ts(time.Now())
	out.StartTime = ts(in.StartTime)
	out.EndTime = ts(in.EndTime)
	out.CreatedAt = now
	out.UpdatedAt = now
	row := ev.s.queryRow(ctx, `
        INSERT INTO events (user_id, calendar_id, title, description, start_time, end_time, location, all_day, recurrence_rule, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)
        RETURNING id
    `, out.UserID, out.CalendarID, out.Title, out.Description, out.StartTime, out.EndTime,
		out.Location, out.AllDay, out.RecurrenceRule, out.CreatedAt, out.UpdatedAt)
	if err := row.Scan(&out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (ev *events) Get(ctx context.Context, userID string, eventID int64) (*model.LocalEvent, error) {
	row := ev.s.queryRow(ctx, `SELECT `+eventCols+` FROM events WHERE user_id=? AND id=?`, userID, eventID)
	e, err := scanEvent(row)
	if err != nil {
		return nil, notFound(err, "event")
	}
	return e, nil
}

func (ev *events) Update(ctx context.Context, in *model.LocalEvent) (*model.LocalEvent, error) {
	out := *in
	out.StartTime = ts(in.StartTime)
	out.EndTime = ts(in.EndTime)
	out.UpdatedAt = ts(time.Now())
	res, err := ev.s.exec(ctx, `
        UPDATE events SET calendar_id=?, title=?, description=?, start_time=?, end_time=?, location=?, all_day=?, recurrence_rule=?, updated_at=?
        WHERE user_id=? AND id=?
    `, out.CalendarID, out.Title, out.Description, out.StartTime, out.EndTime, out.Location, out.AllDay,
		out.RecurrenceRule, out.UpdatedAt, out.UserID, out.ID)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res, "event"); err != nil {
		return nil, err
	}
	return ev.Get(ctx, out.UserID, out.ID)
}

func (ev *events) Delete(ctx context.Context, userID string, eventID int64) error {
	res, err := ev.s.exec(ctx, `DELETE FROM events WHERE user_id=? AND id=?`, userID, eventID)
	if err != nil {
		return err
	}
	return requireAffected(res, "event")
}

func (ev *events) List(ctx context.Context, req store.ListEventsRequest) ([]*model.LocalEvent, error) {
	q := `SELECT ` + eventCols + ` FROM events WHERE user_id=?`
	args := []any{req.UserID}
	if req.CalendarID != 0 {
		q += ` AND calendar_id=?`
		args = append(args, req.CalendarID)
	}
	if !req.From.IsZero() {
		q += ` AND end_time>=?`
		args = append(args, ts(req.From))
	}
	if !req.To.IsZero() {
		q += ` AND start_time<=?`
		args = append(args, ts(req.To))
	}
	q += ` ORDER BY start_time ASC, id ASC`
	if req.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, req.Limit)
	}
	rows, err := ev.s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.LocalEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (ev *events) FindIdentical(ctx context.Context, in *model.LocalEvent) (*model.LocalEvent, error) {
	row := ev.s.queryRow(ctx, `
        SELECT `+eventCols+` FROM events
        WHERE user_id=? AND calendar_id=? AND title=? AND start_time=? AND end_time=?
        ORDER BY id ASC LIMIT 1
    `, in.UserID, in.CalendarID, in.Title, ts(in.StartTime), ts(in.EndTime))
	e, err := scanEvent(row)
	if err != nil {
		return nil, notFound(err, "event")
	}
	return e, nil
}

// --- External event mappings ---
type eventMappings struct{ s *Store }

// mappingOwner takes the event's user when the row exists, else the caller's.
const mappingOwner = `COALESCE((SELECT user_id FROM events WHERE id=?), ?)`

const eventMappingCols = `event_id, user_id, provider, external_id, created_at, updated_at`

func scanEventMapping(sc interface{ Scan(...any) error }) (*model.ExternalEventMapping, error) {
	var m model.ExternalEventMapping
	var p string
	if err := sc.Scan(&m.EventID, &m.UserID, &p, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Provider = model.Provider(p)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (em *eventMappings) Get(ctx context.Context, eventID int64, provider model.Provider) (*model.ExternalEventMapping, error) {
	row := em.s.queryRow(ctx, `SELECT `+eventMappingCols+` FROM external_event_mappings WHERE event_id=? AND provider=?`, eventID, string(provider))
	m, err := scanEventMapping(row)
	if err != nil {
		return nil, notFound(err, "event mapping")
	}
	return m, nil
}

func (em *eventMappings) Insert(ctx context.Context, m *model.ExternalEventMapping) (bool, error) {
	now := ts(time.Now())
	res, err := em.s.exec(ctx, `
        INSERT INTO external_event_mappings (event_id, user_id, provider, external_id, created_at, updated_at)
        VALUES (?,`+mappingOwner+`,?,?,?,?)
        ON CONFLICT (event_id, provider) DO NOTHING
    `, m.EventID, m.EventID, m.UserID, string(m.Provider), m.ExternalID, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (em *eventMappings) Upsert(ctx context.Context, m *model.ExternalEventMapping) error {
	now := ts(time.Now())
	_, err := em.s.exec(ctx, `
        INSERT INTO external_event_mappings (event_id, user_id, provider, external_id, created_at, updated_at)
        VALUES (?,`+mappingOwner+`,?,?,?,?)
        ON CONFLICT (event_id, provider) DO UPDATE SET external_id=excluded.external_id, updated_at=excluded.updated_at
    `, m.EventID, m.EventID, m.UserID, string(m.Provider), m.ExternalID, now, now)
	return err
}

func (em *eventMappings) Delete(ctx context.Context, eventID int64, provider model.Provider) error {
	_, err := em.s.exec(ctx, `DELETE FROM external_event_mappings WHERE event_id=? AND provider=?`, eventID, string(provider))
	return err
}

func (em *eventMappings) DeleteAll(ctx context.Context, eventID int64) error {
	_, err := em.s.exec(ctx, `DELETE FROM external_event_mappings WHERE event_id=?`, eventID)
	return err
}

func (em *eventMappings) FindByExternalID(ctx context.Context, userID string, provider model.Provider, externalID string) (*model.ExternalEventMapping, error) {
	row := em.s.queryRow(ctx, `
        SELECT `+eventMappingCols+` FROM external_event_mappings
        WHERE user_id=? AND provider=? AND external_id=?
        ORDER BY created_at ASC, event_id ASC LIMIT 1
    `, userID, string(provider), externalID)
	m, err := scanEventMapping(row)
	if err != nil {
		return nil, notFound(err, "event mapping")
	}
	return m, nil
}

func (em *eventMappings) List(ctx context.Context, eventID int64) ([]*model.ExternalEventMapping, error) {
	rows, err := em.s.query(ctx, `SELECT `+eventMappingCols+` FROM external_event_mappings WHERE event_id=? ORDER BY provider ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.ExternalEventMapping
	for rows.Next() {
		m, err := scanEventMapping(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- External calendar mappings ---
type calendarMappings struct{ s *Store }

func scanCalendarMapping(sc interface{ Scan(...any) error }) (*model.ExternalCalendarMapping, error) {
	var m model.ExternalCalendarMapping
	var p string
	if err := sc.Scan(&m.CalendarID, &p, &m.ExternalCalendarID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Provider = model.Provider(p)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (cm *calendarMappings) Get(ctx context.Context, calendarID int64, provider model.Provider) (*model.ExternalCalendarMapping, error) {
	row := cm.s.queryRow(ctx, `
        SELECT calendar_id, provider, external_calendar_id, created_at, updated_at
        FROM external_calendar_mappings WHERE calendar_id=? AND provider=?
    `, calendarID, string(provider))
	m, err := scanCalendarMapping(row)
	if err != nil {
		return nil, notFound(err, "calendar mapping")
	}
	return m, nil
}

func (cm *calendarMappings) FirstForUser(ctx context.Context, userID string, provider model.Provider) (*model.ExternalCalendarMapping, error) {
	row := cm.s.queryRow(ctx, `
        SELECT m.calendar_id, m.provider, m.external_calendar_id, m.created_at, m.updated_at
        FROM external_calendar_mappings m
        JOIN calendars c ON c.id = m.calendar_id
        WHERE c.user_id=? AND m.provider=?
        ORDER BY m.created_at ASC, m.calendar_id ASC
        LIMIT 1
    `, userID, string(provider))
	m, err := scanCalendarMapping(row)
	if err != nil {
		return nil, notFound(err, "calendar mapping")
	}
	return m, nil
}

func (cm *calendarMappings) Insert(ctx context.Context, m *model.ExternalCalendarMapping) (bool, error) {
	now := ts(time.Now())
	res, err := cm.s.exec(ctx, `
        INSERT INTO external_calendar_mappings (calendar_id, provider, external_calendar_id, created_at, updated_at)
        VALUES (?,?,?,?,?)
        ON CONFLICT (calendar_id, provider) DO NOTHING
    `, m.CalendarID, string(m.Provider), m.ExternalCalendarID, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Provider connections ---
type connections struct{ s *Store }

const connectionCols = `user_id, provider, access_token, refresh_token, expires_at, feed_url, active, updated_at`

func scanConnection(sc interface{ Scan(...any) error }) (*model.ProviderConnection, error) {
	var c model.ProviderConnection
	var p string
	if err := sc.Scan(&c.UserID, &p, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.FeedURL, &c.Active, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Provider = model.Provider(p)
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.ExpiresAt != nil {
		v := c.ExpiresAt.UTC()
		c.ExpiresAt = &v
	}
	return &c, nil
}

func (cn *connections) Put(ctx context.Context, in *model.ProviderConnection) (*model.ProviderConnection, error) {
	out := *in
	out.UpdatedAt = ts(time.Now())
	out.ExpiresAt = tsPtr(in.ExpiresAt)
	_, err := cn.s.exec(ctx, `
        INSERT INTO provider_connections (user_id, provider, access_token, refresh_token, expires_at, feed_url, active, updated_at)
        VALUES (?,?,?,?,?,?,?,?)
        ON CONFLICT (user_id, provider) DO UPDATE SET
            access_token=excluded.access_token,
            refresh_token=excluded.refresh_token,
            expires_at=excluded.expires_at,
            feed_url=excluded.feed_url,
            active=excluded.active,
            updated_at=excluded.updated_at
    `, out.UserID, string(out.Provider), out.AccessToken, out.RefreshToken, out.ExpiresAt, out.FeedURL, out.Active, out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (cn *connections) Get(ctx context.Context, userID string, provider model.Provider) (*model.ProviderConnection, error) {
	row := cn.s.queryRow(ctx, `SELECT `+connectionCols+` FROM provider_connections WHERE user_id=? AND provider=?`, userID, string(provider))
	c, err := scanConnection(row)
	if err != nil {
		return nil, notFound(err, "connection")
	}
	return c, nil
}

func (cn *connections) list(ctx context.Context, q string, args ...any) ([]*model.ProviderConnection, error) {
	rows, err := cn.s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.ProviderConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (cn *connections) List(ctx context.Context, userID string) ([]*model.ProviderConnection, error) {
	return cn.list(ctx, `SELECT `+connectionCols+` FROM provider_connections WHERE user_id=? ORDER BY provider ASC`, userID)
}

func (cn *connections) ListActive(ctx context.Context, userID string) ([]*model.ProviderConnection, error) {
	return cn.list(ctx, `SELECT `+connectionCols+` FROM provider_connections WHERE user_id=? AND active=? ORDER BY provider ASC`, userID, true)
}

func (cn *connections) Deactivate(ctx context.Context, userID string, provider model.Provider) error {
	res, err := cn.s.exec(ctx, `UPDATE provider_connections SET active=?, updated_at=? WHERE user_id=? AND provider=?`,
		false, ts(time.Now()), userID, string(provider))
	if err != nil {
		return err
	}
	return requireAffected(res, "connection")
}

func (cn *connections) ActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := cn.s.query(ctx, `SELECT DISTINCT user_id FROM provider_connections WHERE active=? ORDER BY user_id ASC`, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
