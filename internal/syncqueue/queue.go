// Package syncqueue records changes made while offline and marks them synced
// once connectivity returns. There is no remote replay target: draining is a
// local flag flip.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/metrics"
	"github.com/jw6ventures/studydesk/internal/store"
)

// Actions recorded by the study services.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

type Queue struct {
	changes store.Repository[store.PendingChange]
	log     *zap.Logger
	now     func() time.Time
}

func New(changes store.Repository[store.PendingChange], log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{changes: changes, log: log, now: time.Now}
}

// QueueChange appends a pending change. Failures are logged and counted but
// never returned, so the caller's primary operation is not affected.
func (q *Queue) QueueChange(ctx context.Context, action, collection string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		q.enqueueFailed(action, collection, fmt.Errorf("encode payload: %w", err))
		return
	}
	rec, err := q.changes.Add(ctx, store.PendingChange{
		Action:    action,
		StoreName: collection,
		Data:      data,
		Timestamp: q.now(),
	})
	if err != nil {
		q.enqueueFailed(action, collection, err)
		return
	}
	metrics.SyncQueued()
	q.log.Debug("queued change", zap.Int64("id", rec.ID), zap.String("action", action), zap.String("collection", collection))
}

func (q *Queue) enqueueFailed(action, collection string, err error) {
	metrics.SyncEnqueueFailed()
	q.log.Error("queue change", zap.String("action", action), zap.String("collection", collection), zap.Error(err))
}

// Pending returns unsynced changes in insertion order.
func (q *Queue) Pending(ctx context.Context) ([]store.PendingChange, error) {
	pending, err := q.changes.ListByIndex(ctx, store.IndexSynced, false)
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending, nil
}

// Drain marks every unsynced change as synced, oldest first. It stops at the
// first write failure and returns how many changes were marked before it.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending changes: %w", err)
	}

	drained := 0
	for _, change := range pending {
		syncedAt := q.now()
		change.Synced = true
		change.SyncedAt = &syncedAt
		if _, err := q.changes.Put(ctx, change); err != nil {
			metrics.SyncDrained(drained)
			return drained, fmt.Errorf("mark change %d synced: %w", change.ID, err)
		}
		drained++
	}
	metrics.SyncDrained(drained)
	return drained, nil
}
