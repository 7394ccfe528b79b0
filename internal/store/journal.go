package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/tasker/internal/model"
	"github.com/seantiz/tasker/internal/scheduler"
)

// journalWriteTimeout bounds each journal write.
const journalWriteTimeout = 5 * time.Second

// defaultKind is recorded for tasks that carry no label.
const defaultKind = "task"

// Journal records scheduler lifecycle events in a Store. It implements
// scheduler.Observer. Rows are keyed by session and handle id, so handle ids from
// earlier processes never collide.
type Journal struct {
	store   Store
	session string
	logger  *slog.Logger
}

// NewJournal creates a journal that writes to s under a fresh session id.
func NewJournal(s Store, logger *slog.Logger) *Journal {
	return &Journal{
		store:   s,
		session: model.NewID(),
		logger:  logger,
	}
}

// Session returns the journal session id of this process.
func (j *Journal) Session() string { return j.session }

// TaskID returns the journal id of a handle submitted in this session.
func (j *Journal) TaskID(handleID int64) string {
	return model.TaskID(j.session, handleID)
}

// Observe writes the journal row change for ev. Events that do not concern a
// single task are ignored.
func (j *Journal) Observe(ev scheduler.Event) {
	if ev.HandleID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	id := j.TaskID(ev.HandleID)
	var err error
	switch ev.Kind {
	case scheduler.EventSubmitted:
		kind := ev.Label
		if kind == "" {
			kind = defaultKind
		}
		err = j.store.CreateTask(ctx, &model.Task{
			ID:        id,
			Session:   j.session,
			HandleID:  ev.HandleID,
			Kind:      kind,
			Status:    model.StatusPending,
			CreatedAt: ev.At.UTC(),
		})
	case scheduler.EventHeld:
		err = j.store.UpdateTaskStatus(ctx, id, model.StatusHeld)
	case scheduler.EventAdmitted, scheduler.EventRequeued:
		err = j.store.UpdateTaskStatus(ctx, id, model.StatusQueued)
	case scheduler.EventStarted:
		err = j.store.MarkRunning(ctx, id, ev.RunID, ev.Attempt, ev.At)
	case scheduler.EventSucceeded, scheduler.EventFailed:
		ms := int(ev.Duration.Milliseconds())
		err = j.store.FinishTask(ctx, id, terminalStatus(ev.Kind), errString(ev.Err), &ms, ev.At)
	case scheduler.EventCancelled, scheduler.EventTimedOut, scheduler.EventDiscarded:
		err = j.store.FinishTask(ctx, id, terminalStatus(ev.Kind), errString(ev.Err), nil, ev.At)
	default:
		return
	}
	if err != nil {
		j.logger.Warn("journal write failed",
			"task_id", id,
			"event", ev.Kind.String(),
			"error", err,
		)
	}
}

func terminalStatus(kind scheduler.EventKind) string {
	switch kind {
	case scheduler.EventSucceeded:
		return model.StatusCompleted
	case scheduler.EventFailed:
		return model.StatusFailed
	case scheduler.EventTimedOut:
		return model.StatusTimedOut
	case scheduler.EventDiscarded:
		return model.StatusDiscarded
	default:
		return model.StatusCancelled
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
