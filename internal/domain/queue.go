package domain

import (
	"time"
)

// QueueAction is the kind of mutation held by the offline write queue.
type QueueAction string

const (
	ActionCreate   QueueAction = "create"
	ActionUpdate   QueueAction = "update"
	ActionDelete   QueueAction = "delete"
	ActionUndelete QueueAction = "undelete"
)

// SyncStatusPending marks a queue item that has not reached the store.
const SyncStatusPending = "pending"

// QueueItem is a mutation recorded while the persistent store was unreachable.
//
// ClientID is empty for a create. Data is only present for create and update.
// Timestamp is milliseconds since the epoch at enqueue time.
type QueueItem struct {
	ID         string         `json:"id,omitempty"`
	ClientID   string         `json:"clientId"`
	Action     QueueAction    `json:"action"`
	Data       *ClientPayload `json:"data,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	SyncStatus string         `json:"syncStatus"`
}

// IsCreate returns true if replaying the item inserts a new document.
func (q QueueItem) IsCreate() bool {
	return q.ClientID == "" && q.Action != ActionDelete && q.Action != ActionUndelete
}

// EnqueuedAt returns the enqueue time.
func (q QueueItem) EnqueuedAt() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// NewSaveItem builds the queue item for saving a payload. An empty clientID
// records a create.
func NewSaveItem(clientID string, data ClientPayload, now time.Time) QueueItem {
	action := ActionUpdate
	if clientID == "" {
		action = ActionCreate
	}
	return QueueItem{
		ClientID:   clientID,
		Action:     action,
		Data:       &data,
		Timestamp:  now.UnixMilli(),
		SyncStatus: SyncStatusPending,
	}
}

// NewDeleteItem builds the queue item for a soft delete.
func NewDeleteItem(clientID string, now time.Time) QueueItem {
	return QueueItem{
		ClientID:   clientID,
		Action:     ActionDelete,
		Timestamp:  now.UnixMilli(),
		SyncStatus: SyncStatusPending,
	}
}

// NewUndeleteItem builds the queue item for a restore.
func NewUndeleteItem(clientID string, now time.Time) QueueItem {
	return QueueItem{
		ClientID:   clientID,
		Action:     ActionUndelete,
		Timestamp:  now.UnixMilli(),
		SyncStatus: SyncStatusPending,
	}
}

// PendingDeletes returns the clients whose most recent queued delete/undelete
// action is a delete.
func PendingDeletes(items []QueueItem) map[string]bool {
	last := make(map[string]QueueAction)
	for _, item := range items {
		if item.ClientID == "" {
			continue
		}
		if item.Action == ActionDelete || item.Action == ActionUndelete {
			last[item.ClientID] = item.Action
		}
	}

	deleted := make(map[string]bool, len(last))
	for id, action := range last {
		if action == ActionDelete {
			deleted[id] = true
		}
	}
	return deleted
}
