// Package jobs contains the periodic tasks run by the background worker
// and the reactions to connectivity changes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/wellpass/internal/connectivity"
	"github.com/DukeRupert/wellpass/internal/service"
)

// Task names
const (
	TaskPurgeDeletedClients = "purge_deleted_clients"
	TaskConnectivityProbe   = "connectivity_probe"
)

// =============================================================================
// Retention Purge
// =============================================================================

// PurgeDeletedClientsTask hard-deletes clients that stayed in the recycle
// bin past the retention period.
type PurgeDeletedClientsTask struct {
	retention service.RetentionService
	logger    *slog.Logger
	now       func() time.Time
}

// NewPurgeDeletedClientsTask creates a new purge task.
func NewPurgeDeletedClientsTask(retention service.RetentionService, logger *slog.Logger) *PurgeDeletedClientsTask {
	return &PurgeDeletedClientsTask{
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Name returns the task identifier.
func (t *PurgeDeletedClientsTask) Name() string {
	return TaskPurgeDeletedClients
}

// Run purges one retention period's worth of deleted clients.
func (t *PurgeDeletedClientsTask) Run(ctx context.Context) error {
	cutoff := t.retention.Cutoff(t.now())
	n, err := t.retention.PurgeExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge deleted clients: %w", err)
	}

	t.logger.Info("Retention purge finished",
		"purged", n,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
	)
	return nil
}

// =============================================================================
// Connectivity
// =============================================================================

// ProbeTask checks whether the persistent store is reachable. Going from
// unreachable to reachable fires the monitor's subscribers.
type ProbeTask struct {
	monitor *connectivity.Monitor
}

// NewProbeTask creates a new probe task.
func NewProbeTask(m *connectivity.Monitor) *ProbeTask {
	return &ProbeTask{monitor: m}
}

// Name returns the task identifier.
func (t *ProbeTask) Name() string {
	return TaskConnectivityProbe
}

// Run probes once. An unreachable store is a state, not a task failure.
func (t *ProbeTask) Run(ctx context.Context) error {
	t.monitor.Probe(ctx)
	return nil
}

// ReplayOnReconnect replays the offline write queue every time signal
// reports the store reachable again.
func ReplayOnReconnect(signal connectivity.Signal, clients service.ClientService, logger *slog.Logger) {
	signal.OnOnline(func(ctx context.Context) {
		res, err := clients.Sync(ctx)
		if err != nil {
			logger.Warn("Offline replay skipped", "error", err)
			return
		}
		if res.Stopped != nil {
			logger.Warn("Offline replay stopped early",
				"applied", res.Applied,
				"remaining", res.Remaining,
				"stopped_at", res.Stopped.ID,
			)
			return
		}
		if res.Applied > 0 {
			logger.Info("Offline replay finished", "applied", res.Applied)
		}
	})
}
