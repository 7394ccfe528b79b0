package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tasker/internal/jobs"
	"github.com/seantiz/tasker/internal/model"
	"github.com/seantiz/tasker/internal/scheduler"
	"github.com/seantiz/tasker/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
	maxDurationMS    = int(24 * time.Hour / time.Millisecond)
)

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Kind      string          `json:"kind"`
	Params    json.RawMessage `json:"params"`
	DelayMS   int             `json:"delay_ms"`
	TimeoutMS *int            `json:"timeout_ms"`
	Start     *bool           `json:"start"`
}

type submitTaskResponse struct {
	HandleID int64  `json:"handle_id"`
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
}

// taskResponse pairs the journal row with the live state when the task belongs to
// this process.
type taskResponse struct {
	Task     *model.Task `json:"task"`
	HandleID int64       `json:"handle_id,omitempty"`
	State    string      `json:"state,omitempty"`
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.DelayMS < 0 || (req.TimeoutMS != nil && *req.TimeoutMS < 0) {
		s.writeError(w, http.StatusBadRequest, "delay_ms and timeout_ms must not be negative")
		return
	}
	if req.DelayMS > maxDurationMS || (req.TimeoutMS != nil && *req.TimeoutMS > maxDurationMS) {
		s.writeError(w, http.StatusBadRequest, "delay_ms and timeout_ms must not exceed 24h")
		return
	}

	job, err := s.jobs.Build(req.Kind, req.Params)
	if errors.Is(err, jobs.ErrUnknownKind) {
		s.writeError(w, http.StatusBadRequest, "unknown job kind")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []scheduler.SubmitOption
	if req.DelayMS > 0 {
		opts = append(opts, scheduler.WithDelay(time.Duration(req.DelayMS)*time.Millisecond))
	}
	if req.TimeoutMS != nil {
		opts = append(opts, scheduler.WithTimeout(time.Duration(*req.TimeoutMS)*time.Millisecond))
	}
	if req.Start != nil {
		opts = append(opts, scheduler.WithStartImmediately(*req.Start))
	}

	h := s.scheduler.Submit(job, nil, opts...)
	s.logger.Debug("task submitted", "handle_id", h.ID(), "kind", req.Kind)

	s.writeJSON(w, http.StatusAccepted, submitTaskResponse{
		HandleID: h.ID(),
		TaskID:   s.journal.TaskID(h.ID()),
		Kind:     req.Kind,
		State:    h.State().String(),
	})
}

// lookup resolves a path id, which is either a handle id of this process or a
// journal id, to the journal row and, for tasks of this process, the live handle.
// The row may be nil for a live task whose journal entry is not written yet.
func (s *Server) lookup(r *http.Request) (*model.Task, scheduler.Handle, bool, error) {
	param := chi.URLParam(r, "id")

	if n, err := strconv.ParseInt(param, 10, 64); err == nil {
		h, live := s.scheduler.Lookup(n)
		if !live {
			return nil, scheduler.Handle{}, false, store.ErrNotFound
		}
		row, err := s.store.GetTask(r.Context(), s.journal.TaskID(n))
		if errors.Is(err, store.ErrNotFound) {
			return nil, h, true, nil
		}
		return row, h, true, err
	}

	row, err := s.store.GetTask(r.Context(), param)
	if err != nil {
		return nil, scheduler.Handle{}, false, err
	}
	if row.Session == s.journal.Session() {
		h, live := s.scheduler.Lookup(row.HandleID)
		return row, h, live, nil
	}
	return row, scheduler.Handle{}, false, nil
}

func (s *Server) respondTask(w http.ResponseWriter, status int, row *model.Task, h scheduler.Handle, live bool) {
	resp := taskResponse{Task: row}
	if live {
		resp.HandleID = h.ID()
		resp.State = h.State().String()
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	row, h, live, err := s.lookup(r)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.respondTask(w, http.StatusOK, row, h, live)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	row, h, live, err := s.lookup(r)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("start task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start task")
		return
	}
	if !live {
		s.writeError(w, http.StatusConflict, "task belongs to a previous session")
		return
	}

	h.Start()
	s.respondTask(w, http.StatusAccepted, row, h, live)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	row, h, live, err := s.lookup(r)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if !live {
		s.writeError(w, http.StatusConflict, "task belongs to a previous session")
		return
	}

	h.Cancel()
	s.respondTask(w, http.StatusOK, row, h, live)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*model.Task{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
