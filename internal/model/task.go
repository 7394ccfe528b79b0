package model

import (
	"strconv"
	"time"
)

// Task status constants as recorded in the journal.
const (
	StatusPending   = "pending"
	StatusHeld      = "held"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
	StatusDiscarded = "discarded"
)

// validTransitions maps each status to the set of statuses it may transition to.
// running -> queued is a requeue after a reaction.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusHeld:      true,
		StatusQueued:    true,
		StatusCancelled: true,
		StatusDiscarded: true,
	},
	StatusHeld: {
		StatusQueued:    true,
		StatusCancelled: true,
	},
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusQueued:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final journal status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut, StatusDiscarded:
		return true
	default:
		return false
	}
}

// Task is the journal view of one submitted task. ID is unique across process
// restarts; HandleID is only meaningful within Session.
type Task struct {
	ID         string     `json:"id"`
	Session    string     `json:"session"`
	HandleID   int64      `json:"handle_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	RunID      string     `json:"run_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskID returns the journal id of a handle within a session.
func TaskID(session string, handleID int64) string {
	return session + "-" + strconv.FormatInt(handleID, 10)
}
