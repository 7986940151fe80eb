package connectivity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingDrainer struct {
	calls  int
	result int
	err    error
	// online is the monitor state seen from inside Drain.
	online []bool
	m      *Monitor
}

func (d *countingDrainer) Drain(context.Context) (int, error) {
	d.calls++
	if d.m != nil {
		d.online = append(d.online, d.m.Online())
	}
	return d.result, d.err
}

func TestSetOnlineDeduplicates(t *testing.T) {
	d := &countingDrainer{}
	m := NewMonitor(true, d, zaptest.NewLogger(t))
	var events []bool
	m.Subscribe(func(online bool) { events = append(events, online) })

	ctx := context.Background()
	if m.SetOnline(ctx, true) {
		t.Fatal("same state should not be a transition")
	}
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)
	m.SetOnline(ctx, true)

	if diff := cmp.Diff([]bool{false, true}, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if d.calls != 1 {
		t.Fatalf("drain calls = %d, want 1", d.calls)
	}
}

func TestReconnectDrainsAfterNotifying(t *testing.T) {
	d := &countingDrainer{result: 3}
	m := NewMonitor(false, d, zaptest.NewLogger(t))
	d.m = m

	var order []string
	m.Subscribe(func(bool) { order = append(order, "first") })
	m.Subscribe(func(bool) { order = append(order, "second") })

	if !m.SetOnline(context.Background(), true) {
		t.Fatal("expected a transition")
	}
	if diff := cmp.Diff([]string{"first", "second"}, order); diff != "" {
		t.Fatalf("subscriber order mismatch (-want +got):\n%s", diff)
	}
	if d.calls != 1 || len(d.online) != 1 || !d.online[0] {
		t.Fatalf("expected one drain while online, got calls=%d state=%v", d.calls, d.online)
	}
}

func TestGoingOfflineDoesNotDrain(t *testing.T) {
	d := &countingDrainer{}
	m := NewMonitor(true, d, zaptest.NewLogger(t))
	m.SetOnline(context.Background(), false)
	if d.calls != 0 {
		t.Fatalf("drain calls = %d, want 0", d.calls)
	}
	if m.Online() {
		t.Fatal("expected offline")
	}
}

func TestDrainErrorIsNotPropagated(t *testing.T) {
	d := &countingDrainer{err: errors.New("disk full")}
	m := NewMonitor(false, d, zaptest.NewLogger(t))
	if !m.SetOnline(context.Background(), true) {
		t.Fatal("expected a transition despite drain failure")
	}
	if !m.Online() {
		t.Fatal("monitor should be online after a failed drain")
	}
}

func TestNilDrainer(t *testing.T) {
	m := NewMonitor(false, nil, nil)
	if !m.SetOnline(context.Background(), true) {
		t.Fatal("expected a transition")
	}
}
