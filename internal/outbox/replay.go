package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
)

// Applied is a queue item that reached the store.
type Applied struct {
	Item domain.QueueItem
	// DocumentID is the client the item was applied to. For a create it is
	// the newly assigned identifier.
	DocumentID string
}

// ReplayResult describes one replay pass.
type ReplayResult struct {
	Applied   []Applied
	Remaining int
	// Failed is the item that stopped the pass, if any.
	Failed   *domain.QueueItem
	Duration time.Duration
}

// maxReplayPasses bounds how often Replay goes back for items enqueued
// while it was running.
const maxReplayPasses = 8

// Replay applies the queued items to store in order. It stops at the first
// failure, keeping the failing item and everything after it, and returns
// that failure. A fully applied queue is removed from the cache.
//
// Only one replay runs at a time; a concurrent call returns
// ErrReplayInProgress without touching the queue. Items enqueued while a
// pass runs are applied by a follow-up pass of the same call.
func (q *Queue) Replay(ctx context.Context, store docstore.Store) (ReplayResult, error) {
	if !q.replayMu.TryLock() {
		return ReplayResult{}, ErrReplayInProgress
	}
	defer q.replayMu.Unlock()

	start := q.now()
	var result ReplayResult
	for pass := 0; pass < maxReplayPasses; pass++ {
		applied, remaining, failed, err := q.pass(ctx, store)
		result.Applied = append(result.Applied, applied...)
		result.Remaining = remaining
		result.Failed = failed
		if err != nil {
			result.Duration = q.now().Sub(start)
			q.logger.Warn("offline replay stopped",
				"applied", len(result.Applied),
				"remaining", remaining,
				"error", err,
			)
			return result, err
		}
		if remaining == 0 || len(applied) == 0 {
			break
		}
	}
	result.Duration = q.now().Sub(start)

	if len(result.Applied) > 0 {
		q.logger.Info("offline replay complete",
			"applied", len(result.Applied),
			"remaining", result.Remaining,
			"duration_ms", result.Duration.Milliseconds(),
		)
	}
	return result, nil
}

// pass applies one snapshot of the queue and commits the applied prefix.
func (q *Queue) pass(ctx context.Context, store docstore.Store) ([]Applied, int, *domain.QueueItem, error) {
	snapshot, err := q.Items(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(snapshot) == 0 {
		return nil, 0, nil, nil
	}

	var (
		applied  []Applied
		failed   *domain.QueueItem
		applyErr error
	)
	for i := range snapshot {
		item := snapshot[i]
		docID, err := Apply(ctx, store, item)
		if err != nil {
			failed = &item
			applyErr = fmt.Errorf("replay %s %s: %w", item.Action, item.ID, err)
			break
		}
		applied = append(applied, Applied{Item: item, DocumentID: docID})
	}

	remaining, err := q.commit(ctx, snapshot, len(applied))
	if err != nil {
		// The applied prefix stays queued and will be applied again.
		q.logger.Error("failed to persist replay progress", "error", err)
		if applyErr == nil {
			applyErr = err
		}
	}
	return applied, remaining, failed, applyErr
}

// commit removes the first applied items of snapshot from the stored queue.
// Items enqueued while the pass ran stay behind the unprocessed ones.
func (q *Queue) commit(ctx context.Context, snapshot []domain.QueueItem, applied int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.readLocked(ctx)
	if err != nil {
		return len(snapshot) - applied, err
	}
	if applied == 0 {
		return len(current), nil
	}
	if !hasPrefix(current, snapshot[:applied]) {
		// Queue was dropped or rewritten during the pass.
		return len(current), nil
	}

	rest := current[applied:]
	if err := q.writeLocked(ctx, rest); err != nil {
		return len(current), err
	}
	return len(rest), nil
}

func hasPrefix(items, prefix []domain.QueueItem) bool {
	if len(items) < len(prefix) {
		return false
	}
	for i := range prefix {
		if items[i].ID != prefix[i].ID || items[i].Timestamp != prefix[i].Timestamp || items[i].Action != prefix[i].Action {
			return false
		}
	}
	return true
}

// Apply writes one queue item to store and returns the affected document ID.
func Apply(ctx context.Context, store docstore.Store, item domain.QueueItem) (string, error) {
	switch {
	case item.Action == domain.ActionDelete:
		return item.ClientID, store.Update(ctx, domain.CollectionClients, item.ClientID, docstore.Fields{
			domain.FieldDeletedAt:  docstore.ServerTimestamp,
			domain.FieldSyncStatus: domain.SyncStatusDeleted,
		})

	case item.Action == domain.ActionUndelete:
		return item.ClientID, store.Update(ctx, domain.CollectionClients, item.ClientID, docstore.Fields{
			domain.FieldDeletedAt:  docstore.DeleteField,
			domain.FieldSyncStatus: docstore.DeleteField,
		})

	case item.ClientID != "":
		fields := payloadFields(item)
		fields[domain.FieldUpdatedAt] = docstore.ServerTimestamp
		return item.ClientID, store.Update(ctx, domain.CollectionClients, item.ClientID, fields)

	default:
		fields := payloadFields(item)
		fields[domain.FieldCreatedAt] = docstore.ServerTimestamp
		fields[domain.FieldUpdatedAt] = docstore.ServerTimestamp
		return store.Insert(ctx, domain.CollectionClients, fields)
	}
}

func payloadFields(item domain.QueueItem) docstore.Fields {
	if item.Data == nil {
		return docstore.Fields{}
	}
	return docstore.Fields(item.Data.Fields())
}
