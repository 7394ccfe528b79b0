package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
	done   chan error
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds and runs the tasker binary")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "tasker-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "tasker")
		out, err := exec.Command("go", "build", "-o", binary, ".").CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func startServer(t *testing.T, dbPath string, env ...string) *serverProc {
	t.Helper()
	binary := getBinary(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary, "serve")
	cmd.Env = append(os.Environ(),
		"TASKER_CONFIG=",
		"TASKER_LISTEN_ADDR="+addr,
		"TASKER_DB_PATH="+dbPath,
		"TASKER_LOG_LEVEL=info",
		"TASKER_WORKERS=2",
		"TASKER_MAX_RETRIES=0",
	)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{cmd: cmd, stdout: stdout, url: "http://" + addr, done: make(chan error, 1)}
	go func() { sp.done <- cmd.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-sp.done
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// stop sends SIGTERM and waits for a clean exit.
func (sp *serverProc) stop(t *testing.T) {
	t.Helper()
	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal server: %v", err)
	}
	select {
	case err := <-sp.done:
		sp.done <- err
		if err != nil {
			t.Fatalf("server exited with %v\nstdout:\n%s", err, sp.stdout.String())
		}
	case <-time.After(startupTimeout):
		t.Fatalf("server did not stop\nstdout:\n%s", sp.stdout.String())
	}
}

type submitted struct {
	HandleID int64  `json:"handle_id"`
	TaskID   string `json:"task_id"`
}

type taskView struct {
	Task *struct {
		Status   string `json:"status"`
		Attempts int    `json:"attempts"`
		Kind     string `json:"kind"`
	} `json:"task"`
	State string `json:"state"`
}

func (sp *serverProc) submit(t *testing.T, body string) submitted {
	t.Helper()
	resp, err := http.Post(sp.url+"/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/tasks status = %d, want 202", resp.StatusCode)
	}
	var out submitted
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func (sp *serverProc) get(t *testing.T, id string) (int, taskView) {
	t.Helper()
	resp, err := http.Get(sp.url + "/v1/tasks/" + id)
	if err != nil {
		t.Fatalf("GET /v1/tasks/%s: %v", id, err)
	}
	defer resp.Body.Close()
	var out taskView
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, out
}

// waitFor polls the journal until the task reaches status.
func (sp *serverProc) waitFor(t *testing.T, handleID int64, status string) taskView {
	t.Helper()
	id := strconv.FormatInt(handleID, 10)
	deadline := time.Now().Add(startupTimeout)
	var last taskView
	for time.Now().Before(deadline) {
		_, last = sp.get(t, id)
		if last.Task != nil && last.Task.Status == status {
			return last
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("task %d did not reach %s, last %+v", handleID, status, last.Task)
	return last
}

func TestServeHealthzAndMetrics(t *testing.T) {
	sp := startServer(t, filepath.Join(t.TempDir(), "tasker.db"))

	resp, err := http.Get(sp.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	for _, name := range []string{"tasker_http_requests_total", "tasker_tasks_running", "tasker_scheduler_suspended"} {
		if !strings.Contains(body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServeRunsTask(t *testing.T) {
	sp := startServer(t, filepath.Join(t.TempDir(), "tasker.db"))

	out := sp.submit(t, `{"kind": "sleep", "params": {"duration_ms": 10}}`)
	view := sp.waitFor(t, out.HandleID, "completed")
	if view.Task.Kind != "sleep" || view.State != "finished" {
		t.Errorf("view = %+v state %q", view.Task, view.State)
	}
}

func TestServeRetriesFlakyJob(t *testing.T) {
	sp := startServer(t, filepath.Join(t.TempDir(), "tasker.db"),
		"TASKER_MAX_RETRIES=3",
		"TASKER_RETRY_BACKOFF=10ms",
	)

	out := sp.submit(t, `{"kind": "flaky", "params": {"failures": 2}}`)
	view := sp.waitFor(t, out.HandleID, "completed")
	if view.Task.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", view.Task.Attempts)
	}
}

func TestServeBatchesTasks(t *testing.T) {
	sp := startServer(t, filepath.Join(t.TempDir(), "tasker.db"), "TASKER_BATCH_SIZE=2")

	first := sp.submit(t, `{"kind": "sleep"}`)
	sp.waitFor(t, first.HandleID, "held")

	second := sp.submit(t, `{"kind": "sleep"}`)
	sp.waitFor(t, first.HandleID, "completed")
	sp.waitFor(t, second.HandleID, "completed")
}

func TestServeJournalSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasker.db")

	sp := startServer(t, dbPath)
	out := sp.submit(t, `{"kind": "sleep", "params": {"message": "persisted"}}`)
	sp.waitFor(t, out.HandleID, "completed")
	sp.stop(t)

	restarted := startServer(t, dbPath)
	code, view := restarted.get(t, out.TaskID)
	if code != http.StatusOK {
		t.Fatalf("GET %s after restart = %d, want 200", out.TaskID, code)
	}
	if view.Task == nil || view.Task.Status != "completed" || view.State != "" {
		t.Errorf("view after restart = %+v state %q, want completed row without live state", view.Task, view.State)
	}

	// The new session numbers handles from 1 again without clashing with old rows.
	next := restarted.submit(t, `{"kind": "sleep"}`)
	if next.TaskID == out.TaskID {
		t.Errorf("task id %q reused across sessions", next.TaskID)
	}
	restarted.waitFor(t, next.HandleID, "completed")
}
