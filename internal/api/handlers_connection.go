package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mycelian/calsync/internal/api/respond"
	"github.com/mycelian/calsync/internal/api/validate"
	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/services"
)

// ConnectionHandler receives credentials from the OAuth collaborator.
// Tokens are accepted but never echoed back.
type ConnectionHandler struct {
	svc *services.ConnectionService
}

func NewConnectionHandler(svc *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{svc: svc}
}

// PutConnection PUT /api/users/{userId}/connections/{provider}
func (h *ConnectionHandler) PutConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := validate.UserID(vars["userId"]); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	p, err := validate.Provider(vars["provider"])
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var req struct {
		AccessToken  string     `json:"accessToken"`
		RefreshToken *string    `json:"refreshToken"`
		ExpiresAt    *time.Time `json:"expiresAt"`
		FeedURL      *string    `json:"feedUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.FeedURL(req.FeedURL); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	out, err := h.svc.PutConnection(r.Context(), &model.ProviderConnection{
		UserID:       vars["userId"],
		Provider:     p,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		FeedURL:      req.FeedURL,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ListConnections GET /api/users/{userId}/connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.svc.ListConnections(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"connections": conns, "count": len(conns)})
}

// DeleteConnection DELETE /api/users/{userId}/connections/{provider}
func (h *ConnectionHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := validate.Provider(vars["provider"])
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.DisconnectProvider(r.Context(), vars["userId"], p); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
