package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jw6ventures/studydesk/internal/connectivity"
	"github.com/jw6ventures/studydesk/internal/store"
)

func openQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s.SyncQueue, zaptest.NewLogger(t)), s
}

func TestReconnectDrainsEveryPendingChange(t *testing.T) {
	q, s := openQueue(t)
	ctx := context.Background()
	monitor := connectivity.NewMonitor(false, q, zaptest.NewLogger(t))
	rec := NewRecorder(q, monitor)

	const n = 5
	for i := 0; i < n; i++ {
		rec.Record(ctx, ActionCreate, store.CollectionTasks, map[string]int{"n": i})
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != n {
		t.Fatalf("pending = %d, want %d", len(pending), n)
	}

	monitor.SetOnline(ctx, true)

	all, err := s.SyncQueue.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != n {
		t.Fatalf("queue holds %d records, want %d", len(all), n)
	}
	for _, c := range all {
		if !c.Synced || c.SyncedAt == nil {
			t.Errorf("change %d not marked synced", c.ID)
		}
	}
	if pending, _ := q.Pending(ctx); len(pending) != 0 {
		t.Fatalf("pending after drain = %d", len(pending))
	}
}

func TestDrainEmptyQueueIsNoop(t *testing.T) {
	q, s := openQueue(t)
	ctx := context.Background()

	n, err := q.Drain(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Drain on empty queue = %d, %v", n, err)
	}

	q.QueueChange(ctx, ActionDelete, store.CollectionGoals, map[string]string{"id": "g1"})
	if n, _ := q.Drain(ctx); n != 1 {
		t.Fatalf("first drain = %d, want 1", n)
	}
	before, _ := s.SyncQueue.List(ctx)
	if n, err := q.Drain(ctx); err != nil || n != 0 {
		t.Fatalf("second drain = %d, %v", n, err)
	}
	after, _ := s.SyncQueue.List(ctx)
	if !after[0].SyncedAt.Equal(*before[0].SyncedAt) {
		t.Fatal("re-drain must not touch already synced changes")
	}
}

func TestDrainPreservesInsertionOrder(t *testing.T) {
	q, _ := openQueue(t)
	ctx := context.Background()

	var order []int64
	tick := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	for _, action := range []string{ActionCreate, ActionUpdate, ActionDelete} {
		q.QueueChange(ctx, action, store.CollectionTasks, nil)
	}
	pending, _ := q.Pending(ctx)
	for _, c := range pending {
		order = append(order, c.ID)
	}
	if len(order) != 3 || order[0] >= order[1] || order[1] >= order[2] {
		t.Fatalf("pending not in id order: %v", order)
	}
	if pending[0].Action != ActionCreate || pending[2].Action != ActionDelete {
		t.Fatalf("actions out of order: %+v", pending)
	}

	if _, err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestRecorderSkipsWhileOnline(t *testing.T) {
	q, s := openQueue(t)
	ctx := context.Background()
	monitor := connectivity.NewMonitor(true, q, zaptest.NewLogger(t))
	NewRecorder(q, monitor).Record(ctx, ActionUpdate, store.CollectionSubjects, map[string]string{"id": "s1"})

	all, _ := s.SyncQueue.List(ctx)
	if len(all) != 0 {
		t.Fatalf("expected nothing queued while online, got %d", len(all))
	}
}

func TestQueueChangeStoresPayload(t *testing.T) {
	q, s := openQueue(t)
	ctx := context.Background()
	q.QueueChange(ctx, ActionCreate, store.CollectionTasks, map[string]string{"id": "t1", "title": "Essay"})

	all, _ := s.SyncQueue.List(ctx)
	if len(all) != 1 {
		t.Fatalf("queued %d, want 1", len(all))
	}
	var payload map[string]string
	if err := json.Unmarshal(all[0].Data, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["title"] != "Essay" || all[0].Synced || all[0].StoreName != store.CollectionTasks {
		t.Fatalf("unexpected change %+v", all[0])
	}
}

type brokenRepo struct {
	store.Repository[store.PendingChange]
}

func (brokenRepo) Add(context.Context, store.PendingChange) (store.PendingChange, error) {
	return store.PendingChange{}, store.ErrStorageUnavailable
}

func (brokenRepo) ListByIndex(context.Context, string, any) ([]store.PendingChange, error) {
	return nil, store.ErrStorageUnavailable
}

func TestFailuresAreSwallowedOnEnqueue(t *testing.T) {
	q := New(brokenRepo{}, zaptest.NewLogger(t))
	ctx := context.Background()

	q.QueueChange(ctx, ActionCreate, store.CollectionTasks, func() {})
	q.QueueChange(ctx, ActionCreate, store.CollectionTasks, nil)

	if _, err := q.Drain(ctx); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("Drain error = %v, want wrapped ErrStorageUnavailable", err)
	}
}
