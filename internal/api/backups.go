package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	maxAge := time.Duration(s.cfg.Backup.MaxAgeDays) * 24 * time.Hour
	info, err := s.db.Backup(r.Context(), s.cfg.Backup.Dir, s.cfg.Backup.MaxCount, maxAge, s.clock.Now())
	if err != nil {
		s.logger.Error("backup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backup": info})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.db.Backups(r.Context())
	if err != nil {
		s.logger.Error("backup listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups, "count": len(backups)})
}
