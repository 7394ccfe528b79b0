package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/tasker/internal/model"
)

// ErrInvalidTransition is returned when a task status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskStats holds aggregate journal statistics.
type TaskStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations of the task journal.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error)
	UpdateTaskStatus(ctx context.Context, id, status string) error
	MarkRunning(ctx context.Context, id, runID string, attempt int, at time.Time) error
	FinishTask(ctx context.Context, id, status, errMsg string, durationMS *int, at time.Time) error
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}
