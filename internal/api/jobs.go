package api

import "net/http"

type listJobsResponse struct {
	Jobs any `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listJobsResponse{Jobs: s.jobs.List()})
}
