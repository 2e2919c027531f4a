package api

import (
	_ "embed"
	"net/http"
	"strconv"
)

//go:embed webui/index.html
var dashboardPage []byte

// dashboard serves the embedded single-page UI.
func (s *Server) dashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(dashboardPage)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dashboardPage); err != nil {
		s.logger.Debug("dashboard write failed")
	}
}
