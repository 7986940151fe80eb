// Package study holds the per-user services behind the subjects, tasks,
// timetable, goals, focus timer and calendar screens.
package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/store"
)

var (
	// ErrNotFound is returned for missing records and for records owned by
	// another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid")
)

// Recorder is told about every successful mutation.
type Recorder interface {
	Record(ctx context.Context, action, collection string, payload any)
}

// Mutation actions passed to the Recorder.
const (
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"
)

type deps struct {
	store *store.Store
	rec   Recorder
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func (d *deps) record(ctx context.Context, action, collection string, payload any) {
	if d.rec != nil {
		d.rec.Record(ctx, action, collection, payload)
	}
}

// Services bundles the study services over one store.
type Services struct {
	Subjects *Subjects
	Tasks    *Tasks
	Classes  *Classes
	Goals    *Goals
	Focus    *Focus
	Calendar *Calendar
}

// Option adjusts New.
type Option func(*deps)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func New(s *store.Store, rec Recorder, log *zap.Logger, opts ...Option) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	d := &deps{store: s, rec: rec, log: log, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(d)
	}
	subjects := &Subjects{d}
	return &Services{
		Subjects: subjects,
		Tasks:    &Tasks{deps: d, subjects: subjects},
		Classes:  &Classes{deps: d, subjects: subjects},
		Goals:    &Goals{d},
		Focus:    &Focus{d},
		Calendar: &Calendar{d},
	}
}

// DateString formats t as a local calendar date.
func DateString(t time.Time) string {
	return t.Local().Format(store.DateLayout)
}

// loadOwned fetches id and checks it belongs to userID.
func loadOwned[T any](ctx context.Context, repo store.Repository[T], id, userID string, owner func(T) string) (T, error) {
	var zero T
	rec, err := repo.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if rec == nil || owner(*rec) != userID {
		return zero, ErrNotFound
	}
	return *rec, nil
}

// put validates rec before writing so callers get ErrInvalid rather than a
// storage error for bad input.
func put[T store.Validator](ctx context.Context, repo store.Repository[T], rec T) (T, error) {
	if err := rec.Validate(); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	saved, err := repo.Put(ctx, rec)
	if errors.Is(err, store.ErrInvalidRecord) {
		return rec, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return saved, err
}

func idPayload(id string) map[string]string {
	return map[string]string{"id": id}
}
