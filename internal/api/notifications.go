package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unreadOnly := q.Get("unread") == "true" || q.Get("unread") == "1"
	limit := intParam(q.Get("limit"), 0, maxListLimit)

	notifications, err := s.db.Notifications(r.Context(), unreadOnly, limit)
	if err != nil {
		s.logger.Error("notification listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	unread, err := s.db.UnreadNotificationCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
		"unread":        unread,
	})
}

type markReadRequest struct {
	// IDs selects the notifications to mark. Empty marks everything read.
	IDs []int64 `json:"ids"`
}

func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if err := s.db.MarkNotificationsRead(r.Context(), req.IDs); err != nil {
		s.logger.Error("mark read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
