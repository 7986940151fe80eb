package study

import (
	"context"
	"fmt"
	"time"

	"github.com/jw6ventures/studydesk/internal/store"
)

type Calendar struct {
	*deps
}

// Month is the task summary behind the month grid. StartWeekday is the
// column of the first day, 0 for Sunday.
type Month struct {
	Year         int            `json:"year"`
	Month        int            `json:"month"`
	First        string         `json:"first"`
	StartWeekday int            `json:"startWeekday"`
	Days         int            `json:"days"`
	TaskCounts   map[string]int `json:"taskCounts"`
}

// ParseMonth reads YYYY-MM.
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: month %q: want YYYY-MM", ErrInvalid, s)
	}
	return t.Year(), t.Month(), nil
}

// TaskCounts returns the number of the user's tasks due on each date of the
// month. Dates without tasks are omitted.
func (c *Calendar) TaskCounts(ctx context.Context, userID string, year int, month time.Month) (Month, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	last := first.AddDate(0, 1, -1)
	out := Month{
		Year:         year,
		Month:        int(month),
		First:        first.Format(store.DateLayout),
		StartWeekday: int(first.Weekday()),
		Days:         last.Day(),
		TaskCounts:   map[string]int{},
	}

	tasks, err := c.store.Tasks.ListByIndex(ctx, store.IndexUserID, userID)
	if err != nil {
		return Month{}, err
	}
	from, to := out.First, last.Format(store.DateLayout)
	for _, t := range tasks {
		if t.DueDate >= from && t.DueDate <= to {
			out.TaskCounts[t.DueDate]++
		}
	}
	return out, nil
}
