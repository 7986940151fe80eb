package study

import (
	"context"
	"errors"
	"fmt"

	"github.com/jw6ventures/studydesk/internal/store"
)

// WorkDuration is the length of one pomodoro in seconds.
const WorkDuration = 25 * 60

// Stats summarizes the focus sessions of one day.
type Stats struct {
	Date         string `json:"date"`
	Sessions     int    `json:"sessions"`
	TotalSeconds int    `json:"totalSeconds"`
}

type Focus struct {
	*deps
}

// Record appends a completed session dated today. A non-positive duration
// records a full pomodoro.
func (f *Focus) Record(ctx context.Context, userID string, seconds int) (store.FocusSession, error) {
	if seconds <= 0 {
		seconds = WorkDuration
	}
	now := f.now()
	session := store.FocusSession{
		ID:          f.newID(),
		UserID:      userID,
		Date:        DateString(now),
		Duration:    seconds,
		CompletedAt: now,
	}
	if err := session.Validate(); err != nil {
		return store.FocusSession{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	saved, err := f.store.Pomodoro.Add(ctx, session)
	if errors.Is(err, store.ErrInvalidRecord) {
		return store.FocusSession{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err != nil {
		return store.FocusSession{}, err
	}
	f.record(ctx, actionCreate, store.CollectionPomodoro, saved)
	return saved, nil
}

// DailyStats counts the user's sessions on date and sums their durations.
func (f *Focus) DailyStats(ctx context.Context, userID, date string) (Stats, error) {
	sessions, err := f.store.Pomodoro.ListByIndex(ctx, store.IndexDate, date)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Date: date}
	for _, s := range sessions {
		if s.UserID != userID {
			continue
		}
		stats.Sessions++
		stats.TotalSeconds += s.Duration
	}
	return stats, nil
}
