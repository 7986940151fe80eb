package study

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jw6ventures/studydesk/internal/store"
)

// Filter selects tasks by status.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
)

// ParseFilter maps an empty string to FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPending, FilterCompleted:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown task filter %q", ErrInvalid, s)
	}
}

func (f Filter) match(t store.Task) bool {
	return f == FilterAll || string(t.Status) == string(f)
}

// TaskView is a task with its subject resolved for display.
type TaskView struct {
	store.Task
	Label
}

type Tasks struct {
	*deps
	subjects *Subjects
}

func taskOwner(t store.Task) string { return t.UserID }

// List returns the user's tasks matching filter, earliest due date first.
// Tasks without a due date sort last.
func (t *Tasks) List(ctx context.Context, userID string, filter Filter) ([]store.Task, error) {
	all, err := t.store.Tasks.ListByIndex(ctx, store.IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Task, 0, len(all))
	for _, task := range all {
		if filter.match(task) {
			out = append(out, task)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})
	return out, nil
}

func (t *Tasks) Get(ctx context.Context, userID, id string) (store.Task, error) {
	return loadOwned(ctx, t.store.Tasks, id, userID, taskOwner)
}

// Save creates the task when its ID is empty and updates it otherwise.
// Priority defaults to medium and status to pending.
func (t *Tasks) Save(ctx context.Context, userID string, task store.Task) (store.Task, error) {
	now := t.now()
	action := actionCreate
	if task.ID == "" {
		task.ID = t.newID()
		task.CreatedAt = now
	} else {
		existing, err := t.Get(ctx, userID, task.ID)
		if err != nil {
			return store.Task{}, err
		}
		task.CreatedAt = existing.CreatedAt
		action = actionUpdate
	}
	task.UserID = userID
	task.Title = strings.TrimSpace(task.Title)
	if task.Priority == "" {
		task.Priority = store.PriorityMedium
	}
	if task.Status == "" {
		task.Status = store.StatusPending
	}
	task.UpdatedAt = now

	saved, err := put(ctx, t.store.Tasks, task)
	if err != nil {
		return store.Task{}, err
	}
	t.record(ctx, action, store.CollectionTasks, saved)
	return saved, nil
}

func (t *Tasks) Delete(ctx context.Context, userID, id string) error {
	if _, err := t.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := t.store.Tasks.Delete(ctx, id); err != nil {
		return err
	}
	t.record(ctx, actionDelete, store.CollectionTasks, idPayload(id))
	return nil
}

// Toggle flips a task between pending and completed.
func (t *Tasks) Toggle(ctx context.Context, userID, id string) (store.Task, error) {
	task, err := t.Get(ctx, userID, id)
	if err != nil {
		return store.Task{}, err
	}
	if task.Status == store.StatusCompleted {
		task.Status = store.StatusPending
	} else {
		task.Status = store.StatusCompleted
	}
	task.UpdatedAt = t.now()

	saved, err := put(ctx, t.store.Tasks, task)
	if err != nil {
		return store.Task{}, err
	}
	t.record(ctx, actionUpdate, store.CollectionTasks, saved)
	return saved, nil
}

// Views is List with subjects resolved.
func (t *Tasks) Views(ctx context.Context, userID string, filter Filter) ([]TaskView, error) {
	tasks, err := t.List(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	return t.views(ctx, userID, tasks)
}

func (t *Tasks) views(ctx context.Context, userID string, tasks []store.Task) ([]TaskView, error) {
	subjects, err := t.subjects.byID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, TaskView{Task: task, Label: labelFor(subjects, task.SubjectID)})
	}
	return out, nil
}

// Today returns the user's unfinished tasks due on date, high priority first.
func (t *Tasks) Today(ctx context.Context, userID, date string) ([]TaskView, error) {
	due, err := t.store.Tasks.ListByIndex(ctx, store.IndexDueDate, date)
	if err != nil {
		return nil, err
	}
	var today []store.Task
	for _, task := range due {
		if task.UserID == userID && task.Status != store.StatusCompleted {
			today = append(today, task)
		}
	}
	sort.SliceStable(today, func(i, j int) bool {
		return today[i].Priority == store.PriorityHigh && today[j].Priority != store.PriorityHigh
	})
	return t.views(ctx, userID, today)
}
