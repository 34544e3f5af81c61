package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/duplicate"
	"github.com/DukeRupert/wellpass/internal/history"
	"github.com/DukeRupert/wellpass/internal/storage"
)

var errStoreDown = fmt.Errorf("%w: connection refused", docstore.ErrUnavailable)

// =============================================================================
// Save
// =============================================================================

func TestSave_OnlineCreateAssignsClientID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.fill(t, "Jane Doe", "555-0100", "")

	res, err := h.svc.Save(ctx, coach, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	require.NotEmpty(t, res.ClientID)
	assert.Equal(t, res.ClientID, h.hist.Present().ClientID)

	doc := h.doc(t, res.ClientID)
	assert.Equal(t, "coach-1", doc.Fields[domain.FieldAssignedCoachID])
	assert.Equal(t, "Jane Doe", doc.Fields[domain.FieldClientName])
	assert.Contains(t, doc.Fields, domain.FieldCreatedAt)
	assert.Contains(t, doc.Fields, domain.FieldUpdatedAt)

	c, ok := h.roster.Find(res.ClientID)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", c.ClientName)
	assert.Zero(t, h.roster.PendingIntents())
}

func TestSave_OfflineCreateIsQueuedWithCoach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.fill(t, "Jane Doe", "555-0100", "")

	res, err := h.svc.Save(ctx, admin, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Empty(t, res.ClientID)
	assert.Equal(t, "Saved offline. Will sync when online.", res.Notice)

	items, err := h.queue.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ActionCreate, items[0].Action)
	require.NotNil(t, items[0].Data)
	assert.Equal(t, "default-coach", items[0].Data.AssignedCoachID)
	assert.Equal(t, 0, h.store.Len(domain.CollectionClients))
	assert.True(t, h.hist.Present().IsNew())
}

func TestSave_DuplicateIsReportedNotWritten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	existing := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Jane Doe",
		domain.FieldPhone:           "555-0100",
		domain.FieldAssignedCoachID: "coach-1",
	})
	h.fill(t, "Someone Else", " 555-0100 ", "")

	res, err := h.svc.Save(ctx, coach, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.Duplicate)
	assert.Equal(t, duplicate.Strong, res.Duplicate.Kind)
	assert.Equal(t, duplicate.ReasonPhone, res.Duplicate.Reason)
	assert.Equal(t, existing, res.Duplicate.Match.ID)
	assert.Equal(t, 1, h.store.Len(domain.CollectionClients))

	res, err = h.svc.Save(ctx, coach, SaveOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	assert.Equal(t, 2, h.store.Len(domain.CollectionClients))
}

func TestSave_ExistingClientIsUpdated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Jane Doe",
		domain.FieldPhone:           "555-0100",
		domain.FieldAssignedCoachID: "coach-1",
	})

	_, err := h.svc.Open(ctx, coach, id)
	require.NoError(t, err)
	rename, err := history.SetPage2Field("name", "Jane Smith")
	require.NoError(t, err)
	h.hist.Update(ctx, rename)

	res, err := h.svc.Save(ctx, coach, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	assert.Equal(t, id, res.ClientID)
	assert.Equal(t, "Jane Smith", h.doc(t, id).Fields[domain.FieldClientName])
	assert.Equal(t, 1, h.store.Len(domain.CollectionClients))
}

func TestSave_UnreachableStoreQueuesAndGoesOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.store.SetFault(errStoreDown)
	h.fill(t, "Jane Doe", "", "jane@example.com")

	res, err := h.svc.Save(ctx, admin, SaveOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.False(t, h.signal.Online())

	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSave_CoachCannotUpdateAnotherCoachsClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Jane Doe",
		domain.FieldAssignedCoachID: "coach-2",
	})
	unseen := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "John Doe",
		domain.FieldAssignedCoachID: "coach-2",
	})
	_, err := h.svc.Load(ctx, coach)
	require.NoError(t, err)
	_, inRoster := h.roster.Find(id)
	require.False(t, inRoster)

	h.hist.Update(ctx, history.SetClientID(id))
	h.fill(t, "Overwritten", "", "")

	_, err = h.svc.Save(ctx, coach, SaveOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
	assert.Equal(t, "Jane Doe", h.doc(t, id).Fields[domain.FieldClientName])
	assert.Equal(t, "coach-2", h.doc(t, id).Fields[domain.FieldAssignedCoachID])

	// With the store unreachable the assignment of a client the roster
	// does not hold cannot be checked, so nothing is queued either.
	h.hist.Update(ctx, history.SetClientID(unseen))
	h.store.SetFault(errStoreDown)
	_, err = h.svc.Save(ctx, coach, SaveOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSave_AdminDuplicateCheckSeesEveryCoach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Ann",
		domain.FieldPhone:           "555-0101",
		domain.FieldAssignedCoachID: "coach-1",
	})
	other := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Bea",
		domain.FieldPhone:           "555-0100",
		domain.FieldAssignedCoachID: "coach-2",
	})

	mine, err := h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	all, err := h.svc.List(ctx, admin, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	h.fill(t, "Someone Else", "555-0100", "")

	res, err := h.svc.Save(ctx, admin, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.Duplicate)
	assert.Equal(t, other, res.Duplicate.Match.ID)
	assert.Equal(t, 2, h.store.Len(domain.CollectionClients))
}

func TestSave_RequiresSession(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.svc.Save(context.Background(), domain.Session{}, SaveOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

// =============================================================================
// Delete and Restore
// =============================================================================

func TestDelete_CoachCannotTouchAnotherCoachsClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Jane Doe",
		domain.FieldAssignedCoachID: "coach-2",
	})

	_, err := h.svc.Delete(ctx, coach, id)
	require.Error(t, err)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
	assert.Equal(t, "Action not allowed.", domain.ErrorMessage(err))
	assert.NotContains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)

	_, err = h.svc.Restore(ctx, coach, id)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func TestDelete_OfflineThenSyncReconcilesRoster(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Jane Doe",
		domain.FieldAssignedCoachID: "coach-1",
	})
	_, err := h.svc.Load(ctx, coach)
	require.NoError(t, err)

	h.signal.Set(ctx, false)
	res, err := h.svc.Delete(ctx, coach, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "Client deleted (offline).", res.Notice)

	active, err := h.svc.List(ctx, coach, domain.ListClientsParams{View: domain.ViewAll})
	require.NoError(t, err)
	assert.Empty(t, active)
	bin, err := h.svc.List(ctx, coach, domain.ListClientsParams{View: domain.ViewRecycleBin})
	require.NoError(t, err)
	require.Len(t, bin, 1)
	assert.Equal(t, id, bin[0].ID)
	assert.NotContains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)

	h.signal.Set(ctx, true)
	sync, err := h.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sync.Applied)
	assert.Equal(t, 0, sync.Remaining)
	assert.Nil(t, sync.Stopped)

	assert.Zero(t, h.roster.PendingIntents())
	fields := h.doc(t, id).Fields
	assert.Contains(t, fields, domain.FieldDeletedAt)
	assert.Equal(t, domain.SyncStatusDeleted, fields[domain.FieldSyncStatus])
	c, ok := h.roster.Find(id)
	require.True(t, ok)
	assert.True(t, c.IsDeleted())
}

func TestUndoDelete_OnlyWithinWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{domain.FieldClientName: "Jane Doe"})
	_, err := h.svc.Load(ctx, admin)
	require.NoError(t, err)

	_, err = h.svc.Delete(ctx, admin, id)
	require.NoError(t, err)
	st, err := h.svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastDeleted)
	assert.Equal(t, "Jane Doe", st.LastDeleted.ClientName)
	assert.Equal(t, h.clock.Add(UndoDeleteWindow), st.LastDeleted.UndoUntil)

	h.clock = h.clock.Add(4 * time.Minute)
	res, err := h.svc.UndoDelete(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "Delete undone.", res.Notice)
	assert.NotContains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)

	_, err = h.svc.UndoDelete(ctx, admin)
	assert.Equal(t, domain.EGONE, domain.ErrorCode(err))

	_, err = h.svc.Delete(ctx, admin, id)
	require.NoError(t, err)
	h.clock = h.clock.Add(UndoDeleteWindow + time.Second)
	_, err = h.svc.UndoDelete(ctx, admin)
	assert.Equal(t, domain.EGONE, domain.ErrorCode(err))
	assert.Contains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)

	st, err = h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.LastDeleted)
}

func TestRestore_ClearsMatchingLastDeleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{domain.FieldClientName: "Jane Doe"})

	_, err := h.svc.Delete(ctx, admin, id)
	require.NoError(t, err)
	res, err := h.svc.Restore(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	assert.Equal(t, "Client restored.", res.Notice)

	st, err := h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.LastDeleted)
}

func TestRestoreAll_RestoresSessionRecycleBin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	deleted := docstore.Fields{
		domain.FieldDeletedAt:       h.clock,
		domain.FieldSyncStatus:      domain.SyncStatusDeleted,
		domain.FieldAssignedCoachID: "coach-1",
	}
	a := h.seed(t, copyFields(deleted))
	b := h.seed(t, copyFields(deleted))
	other := h.seed(t, docstore.Fields{
		domain.FieldDeletedAt:       h.clock,
		domain.FieldAssignedCoachID: "coach-2",
	})
	_, err := h.svc.Load(ctx, admin)
	require.NoError(t, err)

	res, err := h.svc.RestoreAll(ctx, coach)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	assert.ElementsMatch(t, []string{a, b}, res.ClientIDs)

	for _, id := range []string{a, b} {
		assert.NotContains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)
	}
	assert.Contains(t, h.doc(t, other).Fields, domain.FieldDeletedAt)

	res, err = h.svc.RestoreAll(ctx, coach)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestRestoreAll_OfflineQueuesEachClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	a := h.seed(t, docstore.Fields{domain.FieldDeletedAt: h.clock})
	b := h.seed(t, docstore.Fields{domain.FieldDeletedAt: h.clock})
	_, err := h.svc.Load(ctx, admin)
	require.NoError(t, err)

	h.signal.Set(ctx, false)
	res, err := h.svc.RestoreAll(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "All clients restored (offline).", res.Notice)

	items, err := h.queue.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.ElementsMatch(t, []string{a, b}, []string{items[0].ClientID, items[1].ClientID})
	for _, item := range items {
		assert.Equal(t, domain.ActionUndelete, item.Action)
	}

	active, err := h.svc.List(ctx, admin, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestWrite_QueuesBehindPendingItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{domain.FieldClientName: "Jane Doe"})
	_, err := h.svc.Load(ctx, admin)
	require.NoError(t, err)

	h.signal.Set(ctx, false)
	_, err = h.svc.Delete(ctx, admin, id)
	require.NoError(t, err)
	h.signal.Set(ctx, true)

	// The restore must not overtake the queued delete.
	res, err := h.svc.Restore(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)

	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NotContains(t, h.doc(t, id).Fields, domain.FieldDeletedAt)
	c, ok := h.roster.Find(id)
	require.True(t, ok)
	assert.False(t, c.IsDeleted())
}

func TestWrite_CreateBehindQueueGetsClientID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.fill(t, "First", "555-0001", "")
	_, err := h.svc.Save(ctx, admin, SaveOptions{})
	require.NoError(t, err)

	h.signal.Set(ctx, true)
	h.hist.Clear(ctx)
	h.fill(t, "Second", "555-0002", "")
	res, err := h.svc.Save(ctx, admin, SaveOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSaved, res.Outcome)
	require.NotEmpty(t, res.ClientID)
	assert.Equal(t, "Second", h.doc(t, res.ClientID).Fields[domain.FieldClientName])
	assert.Equal(t, 2, h.store.Len(domain.CollectionClients))
}

// =============================================================================
// Recycle bin
// =============================================================================

func TestEmptyRecycleBin_RequiresConnection(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.EmptyRecycleBin(context.Background(), admin)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestEmptyRecycleBin_ArchivesThenDeletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	archive := storage.NewArchive(local)
	h.svc.purger.archive = archive

	gone := h.seed(t, docstore.Fields{
		domain.FieldClientName: "Jane Doe",
		domain.FieldDeletedAt:  h.clock,
	})
	kept := h.seed(t, docstore.Fields{domain.FieldClientName: "John Doe"})
	_, err = h.svc.Load(ctx, admin)
	require.NoError(t, err)

	res, err := h.svc.EmptyRecycleBin(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, []string{gone}, res.ClientIDs)
	assert.Equal(t, "Recycle Bin emptied.", res.Notice)

	assert.Equal(t, 1, h.store.Len(domain.CollectionClients))
	h.doc(t, kept)
	_, ok := h.roster.Find(gone)
	assert.False(t, ok)

	versions, err := archive.Versions(ctx, gone)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	saved, err := archive.Load(ctx, versions[0].Key)
	require.NoError(t, err)
	assert.Equal(t, gone, saved.ClientID)
	assert.Equal(t, storage.ReasonRecycleBinEmptied, saved.Reason)
	assert.Equal(t, "Jane Doe", saved.Fields[domain.FieldClientName])
}

func TestEmptyRecycleBin_KeepsClientsWithQueuedDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{domain.FieldClientName: "Jane Doe"})
	_, err := h.svc.Load(ctx, admin)
	require.NoError(t, err)

	h.signal.Set(ctx, false)
	_, err = h.svc.Delete(ctx, admin, id)
	require.NoError(t, err)
	h.signal.Set(ctx, true)

	// The store still holds the client as active until the queue replays.
	res, err := h.svc.EmptyRecycleBin(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Equal(t, 1, h.store.Len(domain.CollectionClients))
}

// =============================================================================
// Listing
// =============================================================================

func TestList_Validation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.svc.List(ctx, admin, domain.ListClientsParams{View: "someday"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = h.svc.List(ctx, admin, domain.ListClientsParams{Sort: "random"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = h.svc.List(ctx, admin, domain.ListClientsParams{View: domain.ViewByDate})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestList_LoadsRosterForSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Today",
		domain.FieldDate:            "17-October-2026",
		domain.FieldAssignedCoachID: "coach-1",
	})
	h.seed(t, docstore.Fields{
		domain.FieldClientName:      "January",
		domain.FieldDate:            "05-January-2026",
		domain.FieldAssignedCoachID: "coach-1",
	})
	h.seed(t, docstore.Fields{
		domain.FieldClientName:      "Other coach",
		domain.FieldDate:            "17-October-2026",
		domain.FieldAssignedCoachID: "coach-2",
	})

	all, err := h.svc.List(ctx, coach, domain.ListClientsParams{Sort: domain.SortNameAsc})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "January", all[0].ClientName)
	assert.Equal(t, "Today", all[1].ClientName)

	today, err := h.svc.List(ctx, coach, domain.ListClientsParams{View: domain.ViewToday})
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "Today", today[0].ClientName)
}

func TestList_RefreshesOnlineAndServesCacheOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.seed(t, docstore.Fields{domain.FieldClientName: "Ann", domain.FieldAssignedCoachID: "coach-1"})

	got, err := h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	h.seed(t, docstore.Fields{domain.FieldClientName: "Bea", domain.FieldAssignedCoachID: "coach-1"})
	got, err = h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	h.signal.Set(ctx, false)
	h.seed(t, docstore.Fields{domain.FieldClientName: "Cid", domain.FieldAssignedCoachID: "coach-1"})
	got, err = h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// An unreachable store falls back to the loaded roster.
	h.signal.Set(ctx, true)
	h.store.SetFault(errStoreDown)
	got, err = h.svc.List(ctx, coach, domain.ListClientsParams{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.False(t, h.signal.Online())
}

func TestLoad_UnreachableStore(t *testing.T) {
	h := newHarness(t, true)
	h.store.SetFault(errStoreDown)

	_, err := h.svc.Load(context.Background(), admin)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.False(t, h.signal.Online())
}

func TestGet_HidesOtherCoachesClients(t *testing.T) {
	h := newHarness(t, true)
	id := h.seed(t, docstore.Fields{domain.FieldAssignedCoachID: "coach-2"})

	_, err := h.svc.Get(context.Background(), coach, id)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	c, err := h.svc.Get(context.Background(), admin, id)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
}

func copyFields(f docstore.Fields) docstore.Fields {
	out := make(docstore.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
