package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seantiz/tasker/internal/events"
	"github.com/seantiz/tasker/internal/scheduler"
)

// eventPayload is the SSE data of one lifecycle event.
type eventPayload struct {
	Kind       string    `json:"kind"`
	HandleID   int64     `json:"handle_id"`
	TaskID     string    `json:"task_id"`
	Label      string    `json:"label,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Reactor    string    `json:"reactor,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

func (s *Server) payload(ev scheduler.Event) eventPayload {
	p := eventPayload{
		Kind:       ev.Kind.String(),
		HandleID:   ev.HandleID,
		TaskID:     s.journal.TaskID(ev.HandleID),
		Label:      ev.Label,
		RunID:      ev.RunID,
		Attempt:    ev.Attempt,
		Reactor:    ev.Reactor,
		At:         ev.At,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// handleStreamEvents streams lifecycle events as SSE. With ?handle=<id> the stream
// carries one task's events and ends after its terminal event.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	topic := events.All
	if v := r.URL.Query().Get("handle"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, http.StatusBadRequest, "handle must be a positive integer")
			return
		}
		if _, ok := s.scheduler.Lookup(id); !ok {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		topic = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	// A finished handle has a closed topic, so the loop below ends at once.
	ch, unsub := s.broker.Subscribe(topic)
	defer unsub()
	defer trackStream()()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(s.payload(ev))
			if err != nil {
				s.logger.Error("encode event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, ev.Kind.String(), string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
