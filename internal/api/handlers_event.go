package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mycelian/calsync/internal/api/respond"
	"github.com/mycelian/calsync/internal/api/validate"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/services"
	"github.com/mycelian/calsync/internal/store"
)

const (
	defaultEventLimit = 500
	maxEventLimit     = 5000
)

// EventHandler is the HTTP transport for local events. Writes trigger the
// outbound sync inside EventService.
type EventHandler struct {
	svc *services.EventService
}

func NewEventHandler(svc *services.EventService) *EventHandler { return &EventHandler{svc: svc} }

type eventRequest struct {
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Location       *string   `json:"location"`
	AllDay         bool      `json:"allDay"`
	CalendarID     int64     `json:"calendarId"`
	RecurrenceRule *string   `json:"recurrenceRule"`
}

func (req eventRequest) toModel(userID string) *model.LocalEvent {
	return &model.LocalEvent{
		Title:          req.Title,
		Description:    req.Description,
		StartTime:      req.StartTime.UTC(),
		EndTime:        req.EndTime.UTC(),
		Location:       req.Location,
		AllDay:         req.AllDay,
		CalendarID:     req.CalendarID,
		UserID:         userID,
		RecurrenceRule: req.RecurrenceRule,
	}
}

// decodeEvent reads and validates the request body, writing a 400 on failure.
func decodeEvent(w http.ResponseWriter, r *http.Request) (*eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return nil, false
	}
	if err := validate.EventInput(req.Title, req.Description, req.Location, req.RecurrenceRule); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return &req, true
}

// pathIDs extracts {userId} and {eventId}, writing a 400 on failure.
func pathIDs(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	vars := mux.Vars(r)
	id, err := validate.EventID(vars["eventId"])
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return "", 0, false
	}
	return vars["userId"], id, true
}

// CreateEvent POST /api/users/{userId}/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	out, err := h.svc.CreateEvent(r.Context(), req.toModel(userID))
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// ListEvents GET /api/users/{userId}/events?calendarId=&from=&to=&limit=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := store.ListEventsRequest{UserID: mux.Vars(r)["userId"]}

	var err error
	if raw := q.Get("calendarId"); raw != "" {
		if req.CalendarID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			respond.WriteBadRequest(w, "calendarId must be an integer")
			return
		}
	}
	if req.From, err = validate.Time("from", q.Get("from")); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if req.To, err = validate.Time("to", q.Get("to")); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if req.Limit, err = validate.Limit(q.Get("limit"), defaultEventLimit, maxEventLimit); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.svc.ListEvents(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// ListOccurrences GET /api/users/{userId}/occurrences?from=&to=
func (h *EventHandler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := validate.Time("from", q.Get("from"))
	if err == nil && from.IsZero() {
		err = validate.NonEmpty("from", "")
	}
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	to, err := validate.Time("to", q.Get("to"))
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}
	occ, err := h.svc.ListOccurrences(r.Context(), mux.Vars(r)["userId"], from, to)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"occurrences": occ, "count": len(occ)})
}

// GetEvent GET /api/users/{userId}/events/{eventId}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := pathIDs(w, r)
	if !ok {
		return
	}
	ev, err := h.svc.GetEvent(r.Context(), userID, id)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, ev)
}

// UpdateEvent PUT /api/users/{userId}/events/{eventId}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := pathIDs(w, r)
	if !ok {
		return
	}
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	ev := req.toModel(userID)
	ev.ID = id
	out, err := h.svc.UpdateEvent(r.Context(), ev)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// DeleteEvent DELETE /api/users/{userId}/events/{eventId}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteEvent(r.Context(), userID, id); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMappings GET /api/users/{userId}/events/{eventId}/mappings
func (h *EventHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := pathIDs(w, r)
	if !ok {
		return
	}
	ms, err := h.svc.ListMappings(r.Context(), userID, id)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"mappings": ms, "count": len(ms)})
}
