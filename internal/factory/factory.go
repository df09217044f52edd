// Package factory builds the store and the sync stack from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/config"
	"github.com/mycelian/calsync/internal/mapping"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/provider/google"
	"github.com/mycelian/calsync/internal/provider/ics"
	"github.com/mycelian/calsync/internal/provider/outlook"
	"github.com/mycelian/calsync/internal/pushqueue"
	"github.com/mycelian/calsync/internal/services"
	"github.com/mycelian/calsync/internal/store/postgres"
	"github.com/mycelian/calsync/internal/store/sqlite"
	"github.com/mycelian/calsync/internal/store/sqlstore"
	"github.com/mycelian/calsync/internal/syncer"
	"github.com/mycelian/calsync/internal/synclog"
)

// NewStore opens the store selected by cfg.DBDriver and applies its schema.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLitePath).Msg("opening sqlite store")
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		log.Info().Msg("opening postgres store")
		return postgres.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}

// NewRegistry registers an adapter for every supported provider.
func NewRegistry(cfg *config.Config, m *mapping.Store, logs *synclog.Logger, log zerolog.Logger) *provider.Registry {
	gopts := []google.Option{google.WithLogger(log)}
	if cfg.GoogleBaseURL != "" {
		gopts = append(gopts, google.WithEndpoint(cfg.GoogleBaseURL))
	}
	return provider.NewRegistry(
		outlook.New(m, logs, outlook.WithBaseURL(cfg.OutlookBaseURL), outlook.WithLogger(log)),
		google.New(m, logs, gopts...),
		ics.New(m, logs, ics.WithLogger(log)),
	)
}

// SyncStack is every component between the HTTP layer and the store.
type SyncStack struct {
	Store        *sqlstore.Store
	Mappings     *mapping.Store
	Logs         *synclog.Logger
	Registry     *provider.Registry
	Orchestrator *syncer.Orchestrator
	Events       *services.EventService
	Calendars    *services.CalendarService
	Connections  *services.ConnectionService
	// Queue is set when outbound sync runs in the background.
	Queue *pushqueue.Queue
}

// NewSyncStack wires the sync stack over st. Outbound sync is attached to
// the event service; with cfg.SyncAsync it runs on a push queue.
func NewSyncStack(st *sqlstore.Store, cfg *config.Config, log zerolog.Logger) *SyncStack {
	m := mapping.New(st, log)
	logs := synclog.New(cfg.LogCapacity, log)
	reg := NewRegistry(cfg, m, logs, log)
	orch := syncer.New(st.Connections(), reg, logs, log, syncer.Options{
		Timeout: cfg.ProviderTimeout,
		Retry: provider.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
	})

	s := &SyncStack{
		Store:        st,
		Mappings:     m,
		Logs:         logs,
		Registry:     reg,
		Orchestrator: orch,
		Events:       services.NewEventService(st, m, log),
		Calendars:    services.NewCalendarService(st),
		Connections:  services.NewConnectionService(st),
	}
	if cfg.SyncAsync {
		s.Queue = pushqueue.New(pushqueue.Config{
			ErrorHandler: func(key string, err error) {
				log.Warn().Err(err).Str("event_id", key).Msg("queued sync out failed")
			},
		}, log)
		s.Events.AttachSyncer(orch, s.Queue)
	} else {
		s.Events.AttachSyncer(orch, nil)
	}
	orch.SetUpserter(s.Events)
	return s
}

// Close drains queued pushes and closes the database.
func (s *SyncStack) Close() error {
	if s.Queue != nil {
		s.Queue.Stop()
	}
	return s.Store.DB().Close()
}
