package study

import (
	"context"
	"sort"
	"strings"

	"github.com/jw6ventures/studydesk/internal/store"
)

type Goals struct {
	*deps
}

func goalOwner(g store.Goal) string { return g.UserID }

// List returns the user's goals, oldest first.
func (g *Goals) List(ctx context.Context, userID string) ([]store.Goal, error) {
	goals, err := g.store.Goals.ListByIndex(ctx, store.IndexUserID, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].CreatedAt.Before(goals[j].CreatedAt) })
	return goals, nil
}

func (g *Goals) Save(ctx context.Context, userID string, goal store.Goal) (store.Goal, error) {
	now := g.now()
	action := actionCreate
	if goal.ID == "" {
		goal.ID = g.newID()
		goal.CreatedAt = now
	} else {
		existing, err := loadOwned(ctx, g.store.Goals, goal.ID, userID, goalOwner)
		if err != nil {
			return store.Goal{}, err
		}
		goal.CreatedAt = existing.CreatedAt
		action = actionUpdate
	}
	goal.UserID = userID
	goal.Text = strings.TrimSpace(goal.Text)
	goal.UpdatedAt = now

	saved, err := put(ctx, g.store.Goals, goal)
	if err != nil {
		return store.Goal{}, err
	}
	g.record(ctx, action, store.CollectionGoals, saved)
	return saved, nil
}

func (g *Goals) Delete(ctx context.Context, userID, id string) error {
	if _, err := loadOwned(ctx, g.store.Goals, id, userID, goalOwner); err != nil {
		return err
	}
	if err := g.store.Goals.Delete(ctx, id); err != nil {
		return err
	}
	g.record(ctx, actionDelete, store.CollectionGoals, idPayload(id))
	return nil
}
