// Package synclog keeps a bounded, in-memory history of sync outcomes.
package synclog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/model"
)

// DefaultCapacity is the number of entries retained before FIFO eviction.
const DefaultCapacity = 1000

// Logger is a fixed-capacity ring buffer of SyncLogEntry values. It is safe for
// concurrent use. Every entry is mirrored to the structured logger.
type Logger struct {
	mu    sync.Mutex
	buf   []model.SyncLogEntry
	start int // index of the oldest entry
	n     int

	log zerolog.Logger
	now func() time.Time
}

// New returns a Logger retaining at most capacity entries. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int, log zerolog.Logger) *Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Logger{
		buf: make([]model.SyncLogEntry, capacity),
		log: log.With().Str("component", "synclog").Logger(),
		now: time.Now,
	}
}

// Option decorates an entry built by Info, Warn or Error.
type Option func(*model.SyncLogEntry)

// WithEventID attaches the local event id.
func WithEventID(id int64) Option {
	return func(e *model.SyncLogEntry) { e.EventID = &id }
}

// WithError records err's message as the entry's error detail.
func WithError(err error) Option {
	return func(e *model.SyncLogEntry) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithMetadata adds one structured key.
func WithMetadata(key string, value any) Option {
	return func(e *model.SyncLogEntry) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// Log appends entry, assigning an id and timestamp when missing. Once the
// buffer is full the oldest entry is evicted.
func (l *Logger) Log(entry model.SyncLogEntry) model.SyncLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.Level == "" {
		entry.Level = model.LogInfo
	}

	l.mu.Lock()
	capacity := len(l.buf)
	if l.n < capacity {
		l.buf[(l.start+l.n)%capacity] = entry
		l.n++
	} else {
		l.buf[l.start] = entry
		l.start = (l.start + 1) % capacity
	}
	l.mu.Unlock()

	l.mirror(entry)
	return entry
}

func (l *Logger) mirror(e model.SyncLogEntry) {
	var ev *zerolog.Event
	switch e.Level {
	case model.LogError:
		ev = l.log.Error()
	case model.LogWarn:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}
	ev = ev.Str("sync_log_id", e.ID).
		Str("operation", e.Operation).
		Str("provider", string(e.Provider)).
		Str("user_id", e.UserID)
	if e.EventID != nil {
		ev = ev.Int64("event_id", *e.EventID)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	if len(e.Metadata) > 0 {
		ev = ev.Interface("metadata", e.Metadata)
	}
	ev.Msg(e.Message)
}

func (l *Logger) add(level model.LogLevel, operation string, provider model.Provider, userID, message string, opts []Option) model.SyncLogEntry {
	e := model.SyncLogEntry{
		Level:     level,
		Operation: operation,
		Provider:  provider,
		UserID:    userID,
		Message:   message,
	}
	for _, o := range opts {
		o(&e)
	}
	return l.Log(e)
}

// Info records a successful step.
func (l *Logger) Info(operation string, provider model.Provider, userID, message string, opts ...Option) model.SyncLogEntry {
	return l.add(model.LogInfo, operation, provider, userID, message, opts)
}

// Warn records a step that was skipped or degraded but did not fail.
func (l *Logger) Warn(operation string, provider model.Provider, userID, message string, opts ...Option) model.SyncLogEntry {
	return l.add(model.LogWarn, operation, provider, userID, message, opts)
}

// Error records a failed step.
func (l *Logger) Error(operation string, provider model.Provider, userID, message string, opts ...Option) model.SyncLogEntry {
	return l.add(model.LogError, operation, provider, userID, message, opts)
}

// Filter narrows GetLogs. Empty fields match everything; set fields must all match.
type Filter struct {
	Provider model.Provider
	UserID   string
}

func (f Filter) match(e *model.SyncLogEntry) bool {
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return true
}

// GetLogs returns the most recent limit entries matching f, oldest first.
// A non-positive limit returns every match.
func (l *Logger) GetLogs(f Filter, limit int) []model.SyncLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.buf)
	out := make([]model.SyncLogEntry, 0)
	for i := 0; i < l.n; i++ {
		e := &l.buf[(l.start+i)%capacity]
		if f.match(e) {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Clear empties the buffer.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.buf {
		l.buf[i] = model.SyncLogEntry{}
	}
	l.start, l.n = 0, 0
}

// Len reports how many entries are retained.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Capacity reports the eviction threshold.
func (l *Logger) Capacity() int { return len(l.buf) }
