// Package connectivity tracks whether the persistent store is reachable and
// notifies subscribers when it becomes reachable again.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/wellpass/internal/metrics"
)

// Signal reports connectivity to the persistent store.
type Signal interface {
	// Online returns the last known connectivity state.
	Online() bool

	// OnOnline registers fn to run on every offline to online transition.
	OnOnline(fn func(ctx context.Context))
}

// Pinger checks reachability. docstore.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor derives connectivity from periodic probes of a Pinger.
type Monitor struct {
	pinger       Pinger
	logger       *slog.Logger
	probeTimeout time.Duration
	forceOffline bool

	online atomic.Bool

	mu          sync.Mutex
	subscribers []func(ctx context.Context)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.probeTimeout = d
	}
}

// WithForceOffline pins the monitor offline regardless of probe results.
func WithForceOffline(force bool) MonitorOption {
	return func(m *Monitor) {
		m.forceOffline = force
	}
}

// NewMonitor creates a monitor that starts offline until the first probe.
func NewMonitor(p Pinger, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		pinger:       p,
		logger:       logger,
		probeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetOnline(false)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Probe pings the store once and updates the state. Subscribers run
// synchronously, in registration order, when the probe observes the store
// coming back. It returns the new state.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := false
	if !m.forceOffline {
		pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := m.pinger.Ping(pctx)
		cancel()
		if err != nil {
			m.logger.Debug("store probe failed", "error", err)
		}
		online = err == nil
	}

	was := m.online.Swap(online)
	metrics.SetOnline(online)
	switch {
	case online && !was:
		m.logger.Info("store reachable")
		m.notify(ctx)
	case !online && was:
		m.logger.Warn("store unreachable, writes will be queued")
	}
	return online
}

// MarkOffline records a failure observed outside a probe, such as a
// direct write that could not reach the store. The next successful probe
// fires the subscribers again.
func (m *Monitor) MarkOffline() {
	if m.online.Swap(false) {
		metrics.SetOnline(false)
		m.logger.Warn("store marked unreachable")
	}
}

func (m *Monitor) notify(ctx context.Context) {
	m.mu.Lock()
	subs := append([]func(context.Context){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(ctx)
	}
}

// Static is a Signal with a manually controlled state.
type Static struct {
	online atomic.Bool

	mu          sync.Mutex
	subscribers []func(ctx context.Context)
}

// NewStatic creates a Static signal in the given state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

func (s *Static) Online() bool {
	return s.online.Load()
}

func (s *Static) OnOnline(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Set changes the state. Going from offline to online runs the
// subscribers synchronously.
func (s *Static) Set(ctx context.Context, online bool) {
	was := s.online.Swap(online)
	if !online || was {
		return
	}
	s.mu.Lock()
	subs := append([]func(context.Context){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ctx)
	}
}

// MarkOffline sets the signal offline.
func (s *Static) MarkOffline() {
	s.online.Store(false)
}
