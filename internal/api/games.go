package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/database"
)

const maxListLimit = 500

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := database.FilterCriteria{
		Category: catalog.Category(q.Get("category")),
		Engine:   catalog.Engine(q.Get("engine")),
		Status:   catalog.Status(q.Get("status")),
		Tag:      q.Get("tag"),
		Limit:    intParam(q.Get("limit"), 0, maxListLimit),
		Offset:   intParam(q.Get("offset"), 0, 1<<30),
	}
	if raw := q.Get("favorite"); raw != "" {
		fav := raw == "true" || raw == "1"
		criteria.Favorite = &fav
	}

	games, err := s.db.Filter(r.Context(), criteria)
	if err != nil {
		s.logger.Error("game listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games, "count": len(games)})
}

func (s *Server) searchGames(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := intParam(r.URL.Query().Get("limit"), 0, maxListLimit)

	games, err := s.db.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games, "count": len(games)})
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.db.GetByThreadID(r.Context(), chi.URLParam(r, "thread_id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": game})
}

// patchGame updates user-owned fields only. Scraped fields are read-only
// through the API; the scrape pipeline is their single writer.
func (s *Server) patchGame(w http.ResponseWriter, r *http.Request) {
	var patch database.UserFieldPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	threadID := chi.URLParam(r, "thread_id")
	err := s.db.UpdateUserFields(r.Context(), threadID, patch, s.clock.Now())
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, http.StatusNotFound, "game not found")
		case errors.Is(err, database.ErrInvalidUserField):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("user field update failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	game, err := s.db.GetByThreadID(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": game})
}

type playTimeRequest struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) addPlayTime(w http.ResponseWriter, r *http.Request) {
	var req playTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}
	threadID := chi.URLParam(r, "thread_id")
	err := s.db.AddPlayTime(r.Context(), threadID, time.Duration(req.Seconds)*time.Second, s.clock.Now())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thread_id": threadID})
}

// deleteGame soft-deletes a record. A later scrape of the same thread
// resurrects it.
func (s *Server) deleteGame(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	if err := s.db.SoftDelete(r.Context(), threadID, s.clock.Now()); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
