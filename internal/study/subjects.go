package study

import (
	"context"
	"strings"

	"github.com/jw6ventures/studydesk/internal/store"
)

// DefaultSubjectColor is used when a subject is saved without a color.
const DefaultSubjectColor = "#8b7355"

type Subjects struct {
	*deps
}

func subjectOwner(s store.Subject) string { return s.UserID }

func (s *Subjects) List(ctx context.Context, userID string) ([]store.Subject, error) {
	return s.store.Subjects.ListByIndex(ctx, store.IndexUserID, userID)
}

func (s *Subjects) Get(ctx context.Context, userID, id string) (store.Subject, error) {
	return loadOwned(ctx, s.store.Subjects, id, userID, subjectOwner)
}

// Save creates the subject when its ID is empty and updates it otherwise.
func (s *Subjects) Save(ctx context.Context, userID string, subject store.Subject) (store.Subject, error) {
	now := s.now()
	action := actionCreate
	if subject.ID == "" {
		subject.ID = s.newID()
		subject.CreatedAt = now
	} else {
		existing, err := s.Get(ctx, userID, subject.ID)
		if err != nil {
			return store.Subject{}, err
		}
		subject.CreatedAt = existing.CreatedAt
		action = actionUpdate
	}
	subject.UserID = userID
	subject.Name = strings.TrimSpace(subject.Name)
	subject.Code = strings.TrimSpace(subject.Code)
	if subject.Color == "" {
		subject.Color = DefaultSubjectColor
	}
	subject.UpdatedAt = now

	saved, err := put(ctx, s.store.Subjects, subject)
	if err != nil {
		return store.Subject{}, err
	}
	s.record(ctx, action, store.CollectionSubjects, saved)
	return saved, nil
}

// Delete removes the subject only. Tasks and classes keep their subjectId.
func (s *Subjects) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Subjects.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actionDelete, store.CollectionSubjects, idPayload(id))
	return nil
}

// byID indexes the user's subjects for view lookups.
func (s *Subjects) byID(ctx context.Context, userID string) (map[string]store.Subject, error) {
	subjects, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Subject, len(subjects))
	for _, sub := range subjects {
		out[sub.ID] = sub
	}
	return out, nil
}

// Label is how a possibly dangling subject reference is shown.
type Label struct {
	Name  string `json:"subjectName"`
	Color string `json:"subjectColor"`
}

const (
	noSubjectName  = "No Subject"
	noSubjectColor = "#999"
)

func labelFor(subjects map[string]store.Subject, id string) Label {
	if sub, ok := subjects[id]; ok {
		return Label{Name: sub.Name, Color: sub.Color}
	}
	return Label{Name: noSubjectName, Color: noSubjectColor}
}
