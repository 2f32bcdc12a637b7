package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wartungswerk/fieldsync/internal/localstore"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the monitor probes reachability and
// refreshes the pending counter.
const DefaultPollInterval = 5 * time.Second

var (
	errMissingProber = errors.New("connectivity: prober is required")
	errMissingStore  = errors.New("connectivity: local store is required")
)

// Prober checks whether the upstream API is reachable. The remote client's
// health probe satisfies this.
type Prober interface {
	Ping(ctx context.Context) error
}

// SyncTrigger is invoked exactly once on each offline-to-online transition.
// Failed passes are not retried here; retry happens on the next explicit or
// periodic sync invocation.
type SyncTrigger func(ctx context.Context)

// MonitorConfig describes the dependencies of the connectivity monitor.
type MonitorConfig struct {
	Prober       Prober
	Store        *localstore.Store
	Trigger      SyncTrigger
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Monitor tracks online/offline transitions with a held, injectable state
// instead of ambient globals, so the engine stays testable.
type Monitor struct {
	prober       Prober
	store        *localstore.Store
	trigger      SyncTrigger
	pollInterval time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	online    bool
	observed  bool
	listeners []func(online bool)
}

// NewMonitor constructs the connectivity monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Prober == nil {
		return nil, errMissingProber
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		prober:       cfg.Prober,
		store:        cfg.Store,
		trigger:      cfg.Trigger,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// SetTrigger installs the reconnection sync trigger after construction. The
// coordinator observes the monitor for reachability, so one of the two has to
// be wired late.
func (m *Monitor) SetTrigger(trigger SyncTrigger) {
	m.mu.Lock()
	m.trigger = trigger
	m.mu.Unlock()
}

// OnChange registers a listener for reachability transitions.
func (m *Monitor) OnChange(listener func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

// IsOnline probes reachability and records any transition.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	return m.check(ctx)
}

// Run polls reachability until the context ends, keeping the persisted offline
// state and pending counter current.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	online := m.prober.Ping(ctx) == nil

	m.mu.Lock()
	wasOnline := m.online
	hadObservation := m.observed
	m.online = online
	m.observed = true
	trigger := m.trigger
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if err := m.store.UpdateOfflineState(ctx, online); err != nil {
		m.logger.Warn("offline state update failed", zap.Error(err))
	}

	transitioned := !hadObservation || wasOnline != online
	if transitioned {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
		for _, listener := range listeners {
			listener(online)
		}
	}

	// Auto-sync fires once per reconnection edge, never on steady state.
	if online && hadObservation && !wasOnline && trigger != nil {
		trigger(ctx)
	}
	return online
}
