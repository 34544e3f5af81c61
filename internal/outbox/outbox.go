// Package outbox implements the offline write queue.
//
// Mutations attempted while the persistent store is unreachable are appended
// to a queue kept in the local cache and replayed strictly in insertion
// order once connectivity returns. A replay that fails part way keeps the
// failing item and everything after it for the next attempt.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wellpass/internal/cache"
	"github.com/DukeRupert/wellpass/internal/domain"
)

// ErrReplayInProgress is returned when a replay is requested while another
// one is running.
var ErrReplayInProgress = errors.New("replay already in progress")

// Queue is the offline write queue.
type Queue struct {
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time

	// mu guards the read-modify-write of the cached queue.
	mu sync.Mutex
	// replayMu makes replay passes single-flight.
	replayMu sync.Mutex
}

// New creates a queue persisted in c.
func New(c cache.Cache, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue appends item to the queue. A missing ID is generated. A corrupt
// stored queue is replaced by a queue holding only item.
func (q *Queue) Enqueue(ctx context.Context, item domain.QueueItem) (domain.QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp == 0 {
		item.Timestamp = q.now().UnixMilli()
	}
	if item.SyncStatus == "" {
		item.SyncStatus = domain.SyncStatusPending
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.readLocked(ctx)
	if err != nil {
		return item, err
	}
	items = append(items, item)
	if err := q.writeLocked(ctx, items); err != nil {
		return item, err
	}

	q.logger.Info("queued offline mutation",
		"item_id", item.ID,
		"action", item.Action,
		"client_id", item.ClientID,
		"depth", len(items),
	)
	return item, nil
}

// Items returns the queued items in replay order.
func (q *Queue) Items(ctx context.Context) ([]domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked(ctx)
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	return len(items), err
}

// PendingDeletes returns the clients whose last queued delete or undelete
// is a delete.
func (q *Queue) PendingDeletes(ctx context.Context) (map[string]bool, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return nil, err
	}
	return domain.PendingDeletes(items), nil
}

// Drop discards every queued item and returns how many were dropped.
func (q *Queue) Drop(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.readLocked(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.cache.Remove(ctx, cache.OfflineQueueKey); err != nil {
		return 0, fmt.Errorf("drop queue: %w", err)
	}
	if len(items) > 0 {
		q.logger.Warn("dropped offline queue", "items", len(items))
	}
	return len(items), nil
}

// readLocked loads the queue. An unreadable queue is treated as empty.
func (q *Queue) readLocked(ctx context.Context) ([]domain.QueueItem, error) {
	raw, ok, err := q.cache.Get(ctx, cache.OfflineQueueKey)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var items []domain.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Warn("ignoring corrupt offline queue", "error", err)
		return nil, nil
	}
	return items, nil
}

func (q *Queue) writeLocked(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		if err := q.cache.Remove(ctx, cache.OfflineQueueKey); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.cache.Set(ctx, cache.OfflineQueueKey, string(data)); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}
