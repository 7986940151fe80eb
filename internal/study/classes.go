package study

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jw6ventures/studydesk/internal/store"
)

// ClassView is a timetable slot with its subject resolved.
type ClassView struct {
	store.ClassSession
	Label
}

type Classes struct {
	*deps
	subjects *Subjects
}

func classOwner(c store.ClassSession) string { return c.UserID }

func dayIndex(day string) int {
	for i, d := range store.Weekdays {
		if d == day {
			return i
		}
	}
	return len(store.Weekdays)
}

// List returns the user's timetable ordered by weekday and start time.
func (c *Classes) List(ctx context.Context, userID string) ([]ClassView, error) {
	classes, err := c.store.Classes.ListByIndex(ctx, store.IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(classes, func(i, j int) bool {
		di, dj := dayIndex(classes[i].Day), dayIndex(classes[j].Day)
		if di != dj {
			return di < dj
		}
		return classes[i].Time < classes[j].Time
	})
	return c.views(ctx, userID, classes)
}

// ByDay returns the user's classes on day ordered by start time.
func (c *Classes) ByDay(ctx context.Context, userID, day string) ([]ClassView, error) {
	day = strings.ToLower(strings.TrimSpace(day))
	if !store.IsWeekday(day) {
		return nil, fmt.Errorf("%w: unknown day %q", ErrInvalid, day)
	}
	onDay, err := c.store.Classes.ListByIndex(ctx, store.IndexDay, day)
	if err != nil {
		return nil, err
	}
	var classes []store.ClassSession
	for _, class := range onDay {
		if class.UserID == userID {
			classes = append(classes, class)
		}
	}
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].Time < classes[j].Time })
	return c.views(ctx, userID, classes)
}

// Today returns the classes held on the local weekday of now.
func (c *Classes) Today(ctx context.Context, userID string, now time.Time) ([]ClassView, error) {
	return c.ByDay(ctx, userID, store.DayName(now.Local().Weekday()))
}

func (c *Classes) Get(ctx context.Context, userID, id string) (store.ClassSession, error) {
	return loadOwned(ctx, c.store.Classes, id, userID, classOwner)
}

// Save creates the class when its ID is empty and updates it otherwise.
func (c *Classes) Save(ctx context.Context, userID string, class store.ClassSession) (store.ClassSession, error) {
	now := c.now()
	action := actionCreate
	if class.ID == "" {
		class.ID = c.newID()
		class.CreatedAt = now
	} else {
		existing, err := c.Get(ctx, userID, class.ID)
		if err != nil {
			return store.ClassSession{}, err
		}
		class.CreatedAt = existing.CreatedAt
		action = actionUpdate
	}
	class.UserID = userID
	class.Day = strings.ToLower(strings.TrimSpace(class.Day))
	class.Location = strings.TrimSpace(class.Location)
	class.UpdatedAt = now

	saved, err := put(ctx, c.store.Classes, class)
	if err != nil {
		return store.ClassSession{}, err
	}
	c.record(ctx, action, store.CollectionClasses, saved)
	return saved, nil
}

func (c *Classes) Delete(ctx context.Context, userID, id string) error {
	if _, err := c.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := c.store.Classes.Delete(ctx, id); err != nil {
		return err
	}
	c.record(ctx, actionDelete, store.CollectionClasses, idPayload(id))
	return nil
}

func (c *Classes) views(ctx context.Context, userID string, classes []store.ClassSession) ([]ClassView, error) {
	subjects, err := c.subjects.byID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ClassView, 0, len(classes))
	for _, class := range classes {
		out = append(out, ClassView{ClassSession: class, Label: labelFor(subjects, class.SubjectID)})
	}
	return out, nil
}
