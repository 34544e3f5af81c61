package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wellpass/internal/cache"
	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore fails writes for which fail returns an error.
type flakyStore struct {
	*docstore.Memory
	fail func(op, id string) error
	hook func()
}

func (f *flakyStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if f.hook != nil {
		f.hook()
	}
	if f.fail != nil {
		if err := f.fail("update", id); err != nil {
			return err
		}
	}
	return f.Memory.Update(ctx, collection, id, fields)
}

func (f *flakyStore) Insert(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if f.fail != nil {
		if err := f.fail("insert", ""); err != nil {
			return "", err
		}
	}
	return f.Memory.Insert(ctx, collection, fields)
}

func seedClient(t *testing.T, store *docstore.Memory, name string) string {
	t.Helper()
	id, err := store.Insert(context.Background(), domain.CollectionClients, docstore.Fields{
		domain.FieldClientName: name,
		domain.FieldUpdatedAt:  docstore.ServerTimestamp,
	})
	require.NoError(t, err)
	return id
}

func TestEnqueue_PersistsInOrder(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	q := New(c, testLogger())
	now := time.UnixMilli(1_700_000_000_000)

	first, err := q.Enqueue(ctx, domain.NewSaveItem("", domain.ClientPayload{ClientName: "Ana"}, now))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	_, err = q.Enqueue(ctx, domain.NewDeleteItem("doc-1", now))
	require.NoError(t, err)

	// A new queue over the same cache sees the persisted items.
	items, err := New(c, testLogger()).Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.ActionCreate, items[0].Action)
	assert.Equal(t, "Ana", items[0].Data.ClientName)
	assert.Equal(t, domain.ActionDelete, items[1].Action)
	assert.Nil(t, items[1].Data)
	assert.Equal(t, domain.SyncStatusPending, items[1].SyncStatus)
}

func TestEnqueue_ReplacesCorruptQueue(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, cache.OfflineQueueKey, "[{broken"))
	q := New(c, testLogger())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a corrupt queue reads as empty")

	_, err = q.Enqueue(ctx, domain.NewDeleteItem("doc-1", time.Now()))
	require.NoError(t, err)
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplay_AppliesEveryActionAndClearsQueue(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	store := docstore.NewMemory()
	q := New(c, testLogger())
	now := time.Now()

	existing := seedClient(t, store, "Ana")
	deleted := seedClient(t, store, "Bea")
	require.NoError(t, store.Update(ctx, domain.CollectionClients, deleted, docstore.Fields{
		domain.FieldDeletedAt:  docstore.ServerTimestamp,
		domain.FieldSyncStatus: domain.SyncStatusDeleted,
	}))

	items := []domain.QueueItem{
		domain.NewSaveItem(existing, domain.ClientPayload{ClientName: "Ana Lima", Phone: "555-0100"}, now),
		domain.NewSaveItem("", domain.ClientPayload{ClientName: "Cy", AssignedCoachID: "coach-1"}, now),
		domain.NewDeleteItem(existing, now),
		domain.NewUndeleteItem(deleted, now),
	}
	for _, item := range items {
		_, err := q.Enqueue(ctx, item)
		require.NoError(t, err)
	}

	result, err := q.Replay(ctx, store)
	require.NoError(t, err)
	assert.Len(t, result.Applied, 4)
	assert.Zero(t, result.Remaining)
	assert.Nil(t, result.Failed)

	_, ok, err := c.Get(ctx, cache.OfflineQueueKey)
	require.NoError(t, err)
	assert.False(t, ok, "a fully replayed queue is removed")

	doc, _, _ := store.Get(ctx, domain.CollectionClients, existing)
	ana := domain.ClientFromFields(doc.ID, doc.Fields)
	assert.Equal(t, "Ana Lima", ana.ClientName)
	assert.Equal(t, "555-0100", ana.Phone)
	assert.True(t, ana.IsDeleted(), "delete applied after the update")
	assert.NotNil(t, ana.UpdatedAt)

	doc, _, _ = store.Get(ctx, domain.CollectionClients, deleted)
	assert.False(t, domain.ClientFromFields(doc.ID, doc.Fields).IsDeleted())

	createdID := result.Applied[1].DocumentID
	require.NotEmpty(t, createdID)
	doc, ok, _ = store.Get(ctx, domain.CollectionClients, createdID)
	require.True(t, ok)
	cy := domain.ClientFromFields(doc.ID, doc.Fields)
	assert.Equal(t, "Cy", cy.ClientName)
	assert.Equal(t, "coach-1", cy.AssignedCoachID)
	assert.NotNil(t, cy.CreatedAt)
	assert.NotNil(t, cy.UpdatedAt)
}

func TestReplay_PartialFailureKeepsFailingItemAndRest(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	mem := docstore.NewMemory()
	clientA := seedClient(t, mem, "A")

	deletes := 0
	store := &flakyStore{Memory: mem}
	q := New(c, testLogger())
	now := time.Now()

	update := domain.NewSaveItem(clientA, domain.ClientPayload{ClientName: "A2"}, now)
	del := domain.NewDeleteItem(clientA, now)
	create := domain.NewSaveItem("", domain.ClientPayload{ClientName: "B"}, now)
	var queued []domain.QueueItem
	for _, item := range []domain.QueueItem{update, del, create} {
		stored, err := q.Enqueue(ctx, item)
		require.NoError(t, err)
		queued = append(queued, stored)
	}

	// Fail the second write, which is the delete of A.
	writes := 0
	store.fail = func(op, id string) error {
		writes++
		if writes == 2 {
			deletes++
			return fmt.Errorf("connection reset: %w", docstore.ErrUnavailable)
		}
		return nil
	}

	result, err := q.Replay(ctx, store)
	require.Error(t, err)
	assert.True(t, docstore.IsUnavailable(err))
	assert.Equal(t, 1, deletes)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, 2, result.Remaining)
	require.NotNil(t, result.Failed)
	assert.Equal(t, queued[1].ID, result.Failed.ID)

	remaining, err := q.Items(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(queued[1:], remaining); diff != "" {
		t.Errorf("remaining queue mismatch (-want +got):\n%s", diff)
	}

	doc, _, _ := mem.Get(ctx, domain.CollectionClients, clientA)
	assert.Equal(t, "A2", doc.Fields[domain.FieldClientName], "the update before the failure was applied")
	assert.Equal(t, 1, mem.Len(domain.CollectionClients), "the create after the failure was not applied")

	// The next pass retries the failing item first.
	store.fail = nil
	result, err = q.Replay(ctx, store)
	require.NoError(t, err)
	assert.Len(t, result.Applied, 2)
	assert.Equal(t, domain.ActionDelete, result.Applied[0].Item.Action)
	assert.Equal(t, 2, mem.Len(domain.CollectionClients))
}

func TestReplay_EmptyQueueIsNoop(t *testing.T) {
	q := New(cache.NewMemory(), testLogger())
	result, err := q.Replay(context.Background(), docstore.NewMemory())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Zero(t, result.Remaining)
}

func TestReplay_DrainsItemsEnqueuedDuringPass(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	mem := docstore.NewMemory()
	clientA := seedClient(t, mem, "A")
	q := New(c, testLogger())

	_, err := q.Enqueue(ctx, domain.NewDeleteItem(clientA, time.Now()))
	require.NoError(t, err)

	var once sync.Once
	store := &flakyStore{Memory: mem, hook: func() {
		once.Do(func() {
			_, err := q.Enqueue(ctx, domain.NewUndeleteItem(clientA, time.Now()))
			require.NoError(t, err)
		})
	}}

	result, err := q.Replay(ctx, store)
	require.NoError(t, err)
	require.Len(t, result.Applied, 2)
	assert.Equal(t, domain.ActionDelete, result.Applied[0].Item.Action)
	assert.Equal(t, domain.ActionUndelete, result.Applied[1].Item.Action)
	assert.Zero(t, result.Remaining)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	doc, ok, err := mem.Get(ctx, domain.CollectionClients, clientA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, doc.Fields, domain.FieldDeletedAt)
}

func TestReplay_SingleFlight(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	clientA := seedClient(t, mem, "A")
	q := New(cache.NewMemory(), testLogger())
	_, err := q.Enqueue(ctx, domain.NewDeleteItem(clientA, time.Now()))
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	store := &flakyStore{Memory: mem, hook: func() {
		once.Do(func() { close(entered) })
		<-release
	}}

	done := make(chan error, 1)
	go func() {
		_, err := q.Replay(ctx, store)
		done <- err
	}()

	<-entered
	_, err = q.Replay(ctx, store)
	assert.True(t, errors.Is(err, ErrReplayInProgress))

	close(release)
	require.NoError(t, <-done)
}

func TestPendingDeletesAndDrop(t *testing.T) {
	ctx := context.Background()
	q := New(cache.NewMemory(), testLogger())
	now := time.Now()

	for _, item := range []domain.QueueItem{
		domain.NewDeleteItem("a", now),
		domain.NewDeleteItem("b", now),
		domain.NewUndeleteItem("b", now),
	} {
		_, err := q.Enqueue(ctx, item)
		require.NoError(t, err)
	}

	pending, err := q.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, pending)

	n, err := q.Drop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueue_CacheFailureIsReported(t *testing.T) {
	c := cache.NewFailing(cache.NewMemory())
	c.FailWrites(errors.New("disk full"))
	q := New(c, testLogger())

	_, err := q.Enqueue(context.Background(), domain.NewDeleteItem("a", time.Now()))
	assert.Error(t, err)
}
