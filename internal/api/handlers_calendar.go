package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mycelian/calsync/internal/api/respond"
	"github.com/mycelian/calsync/internal/api/validate"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/services"
)

type CalendarHandler struct {
	svc *services.CalendarService
}

func NewCalendarHandler(svc *services.CalendarService) *CalendarHandler {
	return &CalendarHandler{svc: svc}
}

// CreateCalendar POST /api/users/{userId}/calendars
func (h *CalendarHandler) CreateCalendar(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.CreateCalendar(req.Name, req.Color); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	out, err := h.svc.CreateCalendar(r.Context(), &model.LocalCalendar{UserID: userID, Name: req.Name, Color: req.Color})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// ListCalendars GET /api/users/{userId}/calendars
func (h *CalendarHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	cals, err := h.svc.GetCalendars(r.Context(), userID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"calendars": cals, "count": len(cals)})
}
