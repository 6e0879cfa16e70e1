// Package netstatus tracks whether the station can reach the results store.
package netstatus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks reachability of the remote endpoint. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor holds the online flag and notifies subscribers on transitions.
// It starts out online.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      *zap.Logger

	mu     sync.RWMutex
	online bool
	subs   []func(online bool)
}

// NewMonitor returns a monitor that probes every interval once Run is called.
func NewMonitor(prober Prober, interval time.Duration, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      log,
		online:   true,
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnChange registers fn to run after every online/offline transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Set records the current state. Subscribers run only when it changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()

	if was == online {
		return
	}
	m.log.Info("online status changed", zap.Bool("was_online", was), zap.Bool("is_online", online))
	for _, fn := range subs {
		fn(online)
	}
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	err := m.prober.Probe(ctx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; don't flip state on our own cancellation.
		return m.Online()
	}
	if err != nil {
		m.log.Debug("probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes on the monitor's interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
