package api

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Session: s.journal.Session()})
}
