package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/api/recovery"
	"github.com/mycelian/calsync/internal/services"
	"github.com/mycelian/calsync/internal/synclog"
)

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	Events      *services.EventService
	Calendars   *services.CalendarService
	Connections *services.ConnectionService
	Puller      Puller
	Logs        *synclog.Logger
	Health      HealthReporter
	Log         zerolog.Logger
}

// NewRouter creates the HTTP router with every API route.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.New(d.Log))

	healthHandler := NewHealthHandler(d.Health)
	calendarHandler := NewCalendarHandler(d.Calendars)
	eventHandler := NewEventHandler(d.Events)
	connectionHandler := NewConnectionHandler(d.Connections)
	syncHandler := NewSyncHandler(d.Puller, d.Logs)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Calendars
	router.HandleFunc("/api/users/{userId}/calendars", calendarHandler.CreateCalendar).Methods("POST")
	router.HandleFunc("/api/users/{userId}/calendars", calendarHandler.ListCalendars).Methods("GET")

	// Events
	router.HandleFunc("/api/users/{userId}/events", eventHandler.CreateEvent).Methods("POST")
	router.HandleFunc("/api/users/{userId}/events", eventHandler.ListEvents).Methods("GET")
	router.HandleFunc("/api/users/{userId}/events/{eventId}", eventHandler.GetEvent).Methods("GET")
	router.HandleFunc("/api/users/{userId}/events/{eventId}", eventHandler.UpdateEvent).Methods("PUT")
	router.HandleFunc("/api/users/{userId}/events/{eventId}", eventHandler.DeleteEvent).Methods("DELETE")
	router.HandleFunc("/api/users/{userId}/events/{eventId}/mappings", eventHandler.ListMappings).Methods("GET")
	router.HandleFunc("/api/users/{userId}/occurrences", eventHandler.ListOccurrences).Methods("GET")

	// Provider connections
	router.HandleFunc("/api/users/{userId}/connections", connectionHandler.ListConnections).Methods("GET")
	router.HandleFunc("/api/users/{userId}/connections/{provider}", connectionHandler.PutConnection).Methods("PUT")
	router.HandleFunc("/api/users/{userId}/connections/{provider}", connectionHandler.DeleteConnection).Methods("DELETE")

	// Sync
	router.HandleFunc("/api/users/{userId}/sync/pull", syncHandler.Pull).Methods("POST")
	router.HandleFunc("/api/sync/logs", syncHandler.GetLogs).Methods("GET")
	router.HandleFunc("/api/sync/logs", syncHandler.ClearLogs).Methods("DELETE")

	return router
}
