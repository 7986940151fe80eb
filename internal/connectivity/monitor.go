// Package connectivity tracks whether the network is reachable and drains
// the pending-change queue when it comes back.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/metrics"
	"github.com/jw6ventures/studydesk/internal/observer"
)

// Drainer replays recorded changes once the network is back.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Monitor is a two-state online/offline machine.
type Monitor struct {
	online  atomic.Bool
	drainer Drainer
	log     *zap.Logger

	// transition serializes SetOnline so subscribers see changes in order.
	transition sync.Mutex
	observers  observer.Registry[bool]
}

// NewMonitor starts in the given state. drainer may be nil.
func NewMonitor(online bool, drainer Drainer, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{drainer: drainer, log: log}
	m.online.Store(online)
	metrics.SetOnline(online)
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline applies an externally observed state. It is a no-op when the
// state is unchanged. Subscribers are called with the new state, then on an
// offline to online transition the queue is drained before SetOnline
// returns. It reports whether a transition happened.
func (m *Monitor) SetOnline(ctx context.Context, online bool) bool {
	m.transition.Lock()
	defer m.transition.Unlock()

	if m.online.Load() == online {
		return false
	}
	m.online.Store(online)
	metrics.SetOnline(online)
	metrics.ConnectivityTransition(online)
	m.log.Info("connectivity changed", zap.Bool("online", online))

	m.observers.Publish(online)

	if online && m.drainer != nil {
		n, err := m.drainer.Drain(ctx)
		if err != nil {
			m.log.Error("drain pending changes", zap.Int("drained", n), zap.Error(err))
		} else if n > 0 {
			m.log.Info("drained pending changes", zap.Int("drained", n))
		}
	}
	return true
}

// Subscribe registers fn for every transition.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return m.observers.Subscribe(fn)
}
