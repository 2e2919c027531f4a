package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// preview serves the raw bytes of a previously registered download. Only ids
// minted by the download registry resolve; arbitrary paths are unreachable.
// Files above the configured ceiling are rejected outright, not truncated.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing file id")
		return
	}
	path, ok := s.state.FilePath(id)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if info.Size() > s.cfg.Preview.MaxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large for preview")
		return
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("preview read failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "file could not be read")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("preview write failed", zap.Error(err))
	}
}
