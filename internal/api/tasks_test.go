package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/tasker/internal/model"
)

func submit(t *testing.T, ts *httptest.Server, body string) submitTaskResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/tasks status = %d, want 202", resp.StatusCode)
	}
	var out submitTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func getTask(t *testing.T, ts *httptest.Server, id string) (int, taskResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/tasks/" + id)
	if err != nil {
		t.Fatalf("GET /v1/tasks/%s: %v", id, err)
	}
	defer resp.Body.Close()
	var out taskResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, out
}

// waitForStatus polls until the journal row of handle id is terminal.
func waitForStatus(t *testing.T, ts *httptest.Server, id int64) *model.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, out := getTask(t, ts, strconv.FormatInt(id, 10))
		if out.Task != nil && model.IsTerminal(out.Task.Status) {
			return out.Task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %d did not reach a terminal status", id)
	return nil
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestSubmitTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submit(t, ts, `{"kind": "sleep", "params": {"duration_ms": 1, "message": "hi"}}`)
	if out.HandleID <= 0 {
		t.Errorf("handle_id = %d, want positive", out.HandleID)
	}
	if out.TaskID != srv.journal.TaskID(out.HandleID) {
		t.Errorf("task_id = %q, want %q", out.TaskID, srv.journal.TaskID(out.HandleID))
	}

	row := waitForStatus(t, ts, out.HandleID)
	if row.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", row.Status)
	}
	if row.Kind != "sleep" {
		t.Errorf("kind = %q, want sleep", row.Kind)
	}

	// The journal id resolves to the same task.
	code, byJournal := getTask(t, ts, out.TaskID)
	if code != http.StatusOK || byJournal.HandleID != out.HandleID {
		t.Errorf("GET by task id = %d %+v", code, byJournal)
	}
	if byJournal.State != "finished" {
		t.Errorf("state = %q, want finished", byJournal.State)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing kind", `{}`},
		{"unknown kind", `{"kind": "teleport"}`},
		{"bad params", `{"kind": "sleep", "params": {"duration_ms": "long"}}`},
		{"negative delay", `{"kind": "sleep", "delay_ms": -5}`},
		{"negative timeout", `{"kind": "sleep", "timeout_ms": -5}`},
		{"delay over 24h", `{"kind": "sleep", "delay_ms": 86400001}`},
		{"timeout over 24h", `{"kind": "sleep", "timeout_ms": 86400001}`},
		{"overflowing delay", `{"kind": "sleep", "delay_ms": 9223372036854775807}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmitTaskTimeout(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submit(t, ts, `{"kind": "sleep", "params": {"duration_ms": 5000}, "timeout_ms": 10}`)
	row := waitForStatus(t, ts, out.HandleID)
	if row.Status != model.StatusTimedOut {
		t.Errorf("status = %q, want timed_out", row.Status)
	}
}

func TestDeferredStartAndCancel(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	deferred := submit(t, ts, `{"kind": "sleep", "start": false}`)
	if deferred.State != "pending" {
		t.Errorf("state = %q, want pending", deferred.State)
	}
	resp := do(t, http.MethodPost, ts.URL+"/v1/tasks/"+strconv.FormatInt(deferred.HandleID, 10)+"/start")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("start status = %d, want 202", resp.StatusCode)
	}
	if row := waitForStatus(t, ts, deferred.HandleID); row.Status != model.StatusCompleted {
		t.Errorf("started task status = %q, want completed", row.Status)
	}

	held := submit(t, ts, `{"kind": "sleep", "start": false}`)
	resp = do(t, http.MethodDelete, ts.URL+"/v1/tasks/"+strconv.FormatInt(held.HandleID, 10))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State != "finished" {
		t.Errorf("state after cancel = %q, want finished", out.State)
	}
	if row := waitForStatus(t, ts, held.HandleID); row.Status != model.StatusCancelled {
		t.Errorf("cancelled task status = %q, want cancelled", row.Status)
	}
}

func TestTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, id := range []string{"999", "0", "01NOTAREALID-1"} {
		if code, _ := getTask(t, ts, id); code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", id, code)
		}
	}
	resp := do(t, http.MethodDelete, ts.URL+"/v1/tasks/999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskFromPreviousSession(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	old := &model.Task{
		ID:        model.TaskID("01PREVIOUSSESSION", 1),
		Session:   "01PREVIOUSSESSION",
		HandleID:  1,
		Kind:      "sleep",
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateTask(t.Context(), old); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	code, out := getTask(t, ts, old.ID)
	if code != http.StatusOK || out.Task == nil || out.State != "" {
		t.Errorf("GET old task = %d %+v, want row without live state", code, out)
	}

	resp := do(t, http.MethodDelete, ts.URL+"/v1/tasks/"+old.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("DELETE status = %d, want 409", resp.StatusCode)
	}
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var last int64
	for range 3 {
		last = submit(t, ts, `{"kind": "sleep"}`).HandleID
	}
	waitForStatus(t, ts, last)

	resp, err := http.Get(ts.URL + "/v1/tasks?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var out listTasksResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 3 || len(out.Tasks) != 2 || out.Limit != 2 {
		t.Errorf("list = total %d, len %d, limit %d; want 3, 2, 2", out.Total, len(out.Tasks), out.Limit)
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Jobs []struct {
			Kind string `json:"kind"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Jobs) != 2 || out.Jobs[0].Kind != "flaky" || out.Jobs[1].Kind != "sleep" {
		t.Errorf("jobs = %+v, want flaky and sleep", out.Jobs)
	}
}
