package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mycelian/calsync/internal/api/respond"
	"github.com/mycelian/calsync/internal/api/validate"
	"github.com/mycelian/calsync/internal/syncer"
	"github.com/mycelian/calsync/internal/synclog"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// Puller runs one inbound sync pass for a user.
type Puller interface {
	SyncIn(ctx context.Context, userID string) *syncer.PullResult
}

// SyncHandler exposes on-demand pulls and the diagnostic sync log.
type SyncHandler struct {
	puller Puller
	logs   *synclog.Logger
}

func NewSyncHandler(p Puller, logs *synclog.Logger) *SyncHandler {
	return &SyncHandler{puller: p, logs: logs}
}

// Pull POST /api/users/{userId}/sync/pull
// Provider failures do not fail the request; they are listed under "failures".
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	res := h.puller.SyncIn(r.Context(), userID)
	if res.Err != nil {
		respond.WriteServiceError(w, res.Err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":   res.UserID,
		"pulled":   len(res.Events),
		"created":  res.Created,
		"updated":  res.Updated,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"failures": res.FailureMessages(),
	})
}

// GetLogs GET /api/sync/logs?provider=&userId=&limit=
func (h *SyncHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := synclog.Filter{UserID: q.Get("userId")}
	if raw := q.Get("provider"); raw != "" {
		p, err := validate.Provider(raw)
		if err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		f.Provider = p
	}
	limit, err := validate.Limit(q.Get("limit"), defaultLogLimit, maxLogLimit)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	entries := h.logs.GetLogs(f, limit)
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": entries, "count": len(entries)})
}

// ClearLogs DELETE /api/sync/logs
func (h *SyncHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.logs.Clear()
	w.WriteHeader(http.StatusNoContent)
}

