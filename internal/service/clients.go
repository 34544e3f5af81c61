package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/wellpass/internal/connectivity"
	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/duplicate"
	"github.com/DukeRupert/wellpass/internal/history"
	"github.com/DukeRupert/wellpass/internal/metrics"
	"github.com/DukeRupert/wellpass/internal/outbox"
	"github.com/DukeRupert/wellpass/internal/storage"
)

// UndoDeleteWindow is how long after a delete it can still be undone.
const UndoDeleteWindow = 5 * time.Minute

// restoreConcurrency bounds parallel restores.
const restoreConcurrency = 8

// msgNotAllowed is shown when a coach acts on another coach's client.
const msgNotAllowed = "Action not allowed."

// =============================================================================
// Interface Definition
// =============================================================================

// ClientService manages the client roster and saving of passes.
//
// Every mutation goes straight to the persistent store when it is reachable
// and to the offline write queue when it is not. The roster reflects the
// intended end state immediately either way.
type ClientService interface {
	// Load reads the roster visible to the session from the store.
	// Admins get every client, coaches their assigned clients.
	// Returns domain.EUNAVAILABLE if the store cannot be reached.
	Load(ctx context.Context, sess domain.Session) ([]domain.Client, error)

	// List filters, searches and sorts the roster. The roster is loaded
	// first if it never was.
	// Returns domain.EINVALID for an unknown view or sort.
	List(ctx context.Context, sess domain.Session, params domain.ListClientsParams) ([]domain.Client, error)

	// Get returns one client.
	// Returns domain.ENOTFOUND if the client does not exist or is not
	// visible to the session.
	Get(ctx context.Context, sess domain.Session, id string) (domain.Client, error)

	// Open loads a client into the form as an undoable step.
	Open(ctx context.Context, sess domain.Session, id string) (history.Snapshot, error)

	// Save writes the present form. New forms are checked for duplicates
	// unless opts.SkipDuplicateCheck is set; a match is returned with
	// OutcomeDuplicate and nothing is written.
	Save(ctx context.Context, sess domain.Session, opts SaveOptions) (SaveResult, error)

	// Delete soft-deletes a client.
	// Returns domain.EFORBIDDEN if the session may not manage the client.
	Delete(ctx context.Context, sess domain.Session, id string) (MutationResult, error)

	// Restore takes a client out of the recycle bin.
	// Returns domain.EFORBIDDEN if the session may not manage the client.
	Restore(ctx context.Context, sess domain.Session, id string) (MutationResult, error)

	// RestoreAll restores every client in the session's recycle bin.
	RestoreAll(ctx context.Context, sess domain.Session) (MutationResult, error)

	// UndoDelete restores the most recently deleted client.
	// Returns domain.EGONE once UndoDeleteWindow has passed.
	UndoDelete(ctx context.Context, sess domain.Session) (MutationResult, error)

	// EmptyRecycleBin archives and permanently removes the session's
	// soft-deleted clients.
	// Returns domain.EUNAVAILABLE when offline.
	EmptyRecycleBin(ctx context.Context, sess domain.Session) (MutationResult, error)

	// Sync replays the offline write queue and reconciles the roster with
	// what reached the store. A replay that stops part way is reported in
	// the result, not as an error.
	// Returns domain.ECONFLICT if a replay is already running.
	Sync(ctx context.Context) (SyncResult, error)

	// Status reports connectivity, queue depth and the undoable delete.
	Status(ctx context.Context) (Status, error)
}

// Outcome is what happened to a mutation.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeQueued    Outcome = "queued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoop      Outcome = "noop"
)

// SaveOptions contains options for saving the form.
type SaveOptions struct {
	SkipDuplicateCheck bool `json:"skipDuplicateCheck"`
}

// SaveResult is the result of a save.
type SaveResult struct {
	Outcome   Outcome           `json:"outcome"`
	ClientID  string            `json:"clientId,omitempty"`
	Duplicate *duplicate.Result `json:"duplicate,omitempty"`
	Notice    string            `json:"notice,omitempty"`
}

// MutationResult is the result of a delete, restore or purge.
type MutationResult struct {
	Outcome   Outcome  `json:"outcome"`
	ClientIDs []string `json:"clientIds"`
	Notice    string   `json:"notice,omitempty"`
}

// SyncResult describes a replay of the offline write queue.
type SyncResult struct {
	Applied   int               `json:"applied"`
	Remaining int               `json:"remaining"`
	Stopped   *domain.QueueItem `json:"stoppedAt,omitempty"`
	Duration  time.Duration     `json:"durationNs"`
}

// LastDeleted is the delete that can still be undone.
type LastDeleted struct {
	ClientID   string    `json:"clientId"`
	ClientName string    `json:"clientName"`
	DeletedAt  time.Time `json:"deletedAt"`
	UndoUntil  time.Time `json:"undoUntil"`
}

// Status reports the sync state of the process.
type Status struct {
	Online         bool         `json:"online"`
	QueueDepth     int          `json:"queueDepth"`
	PendingDeletes int          `json:"pendingDeletes"`
	PendingIntents int          `json:"pendingIntents"`
	LastDeleted    *LastDeleted `json:"lastDeleted,omitempty"`
}

// ClientServiceDeps holds the collaborators of the client service.
type ClientServiceDeps struct {
	Store   docstore.Store
	Queue   *outbox.Queue
	History *history.Store
	Roster  *Roster
	Signal  connectivity.Signal
	Archive *storage.Archive // optional

	// DefaultCoachID is assigned to clients created by sessions without a
	// coach of their own.
	DefaultCoachID string
}

// =============================================================================
// Implementation
// =============================================================================

type clientService struct {
	store          docstore.Store
	queue          *outbox.Queue
	history        *history.Store
	roster         *Roster
	signal         connectivity.Signal
	purger         purger
	defaultCoachID string
	logger         *slog.Logger
	now            func() time.Time

	mu          sync.Mutex
	lastDeleted *LastDeleted
}

// NewClientService creates a new ClientService.
func NewClientService(deps ClientServiceDeps, logger *slog.Logger) ClientService {
	if deps.Roster == nil {
		deps.Roster = NewRoster()
	}
	return &clientService{
		store:          deps.Store,
		queue:          deps.Queue,
		history:        deps.History,
		roster:         deps.Roster,
		signal:         deps.Signal,
		purger:         purger{store: deps.Store, archive: deps.Archive, logger: logger},
		defaultCoachID: deps.DefaultCoachID,
		logger:         logger,
		now:            time.Now,
	}
}

// =============================================================================
// Roster
// =============================================================================

func (s *clientService) Load(ctx context.Context, sess domain.Session) ([]domain.Client, error) {
	const op = "client.load"

	if err := requireSession(op, sess); err != nil {
		return nil, err
	}

	q := docstore.Query{OrderBy: domain.FieldUpdatedAt, Desc: true}
	if !sess.IsAdmin() {
		q = docstore.Query{
			Filters: []docstore.Filter{docstore.Where(domain.FieldAssignedCoachID, docstore.OpEq, sess.CoachID)},
		}
	}

	docs, err := s.store.Query(ctx, domain.CollectionClients, q)
	if err != nil {
		if docstore.IsUnavailable(err) {
			s.markOffline()
			return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "Clients cannot be loaded while offline.")
		}
		return nil, domain.Internal(err, op, "failed to load clients")
	}

	clients := make([]domain.Client, len(docs))
	for i, d := range docs {
		clients[i] = domain.ClientFromFields(d.ID, d.Fields)
	}
	s.roster.Replace(RosterScope(sess), clients)

	s.logger.Debug("clients loaded", "count", len(clients), "role", sess.Role)
	return clients, nil
}

func (s *clientService) List(ctx context.Context, sess domain.Session, params domain.ListClientsParams) ([]domain.Client, error) {
	const op = "client.list"

	if err := requireSession(op, sess); err != nil {
		return nil, err
	}
	if params.View == "" {
		params.View = domain.ViewAll
	}
	if params.Sort == "" {
		params.Sort = domain.SortUpdatedAtDesc
	}
	if !domain.ValidView(params.View) {
		return nil, domain.Invalid(op, "unknown view "+string(params.View))
	}
	if !domain.ValidSort(params.Sort) {
		return nil, domain.Invalid(op, "unknown sort "+string(params.Sort))
	}
	if params.View == domain.ViewByDate && params.Date.IsZero() {
		return nil, domain.Invalid(op, "a date is required for the by-date view")
	}
	if params.Now.IsZero() {
		params.Now = s.now()
	}

	if err := s.ensureRoster(ctx, sess); err != nil {
		return nil, err
	}

	pending, err := s.queue.PendingDeletes(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read offline queue")
	}
	visible := domain.VisibleTo(s.roster.Clients(), sess)
	return domain.FilterRoster(visible, pending, params), nil
}

func (s *clientService) Get(ctx context.Context, sess domain.Session, id string) (domain.Client, error) {
	const op = "client.get"

	if err := requireSession(op, sess); err != nil {
		return domain.Client{}, err
	}
	c, err := s.find(ctx, op, id)
	if err != nil {
		return domain.Client{}, err
	}
	if !sess.CanManage(c) {
		return domain.Client{}, domain.NotFound(op, "client", id)
	}
	return c, nil
}

func (s *clientService) Open(ctx context.Context, sess domain.Session, id string) (history.Snapshot, error) {
	c, err := s.Get(ctx, sess, id)
	if err != nil {
		return history.Snapshot{}, err
	}
	snap, _ := s.history.Update(ctx, history.OpenClient(c))
	return snap, nil
}

// ensureRoster reads the session's clients from the store while online or
// when the roster was loaded for another scope. Offline, or when the read
// fails because the store is unreachable, a previously loaded roster is
// served from memory.
func (s *clientService) ensureRoster(ctx context.Context, sess domain.Session) error {
	if !s.signal.Online() && s.roster.LoadedFor(RosterScope(sess)) {
		return nil
	}
	_, err := s.Load(ctx, sess)
	if err != nil && domain.ErrorCode(err) == domain.EUNAVAILABLE && s.roster.Loaded() {
		s.logger.Debug("serving cached roster", "error", err)
		return nil
	}
	return err
}

// find looks a client up in the roster and falls back to the store.
func (s *clientService) find(ctx context.Context, op, id string) (domain.Client, error) {
	if id == "" {
		return domain.Client{}, domain.Invalid(op, "client id is required")
	}
	if c, ok := s.roster.Find(id); ok {
		return c, nil
	}

	doc, ok, err := s.store.Get(ctx, domain.CollectionClients, id)
	if err != nil {
		if docstore.IsUnavailable(err) {
			s.markOffline()
			return domain.Client{}, domain.NotFound(op, "client", id)
		}
		return domain.Client{}, domain.Internal(err, op, "failed to get client")
	}
	if !ok {
		return domain.Client{}, domain.NotFound(op, "client", id)
	}
	c := domain.ClientFromFields(doc.ID, doc.Fields)
	s.roster.Confirm(c)
	return c, nil
}

// manageable returns the client if the session may modify it.
func (s *clientService) manageable(ctx context.Context, op string, sess domain.Session, id string) (domain.Client, error) {
	if err := requireSession(op, sess); err != nil {
		return domain.Client{}, err
	}
	c, err := s.find(ctx, op, id)
	if err != nil {
		return domain.Client{}, err
	}
	if !sess.CanManage(c) {
		s.logger.Warn("client action not allowed",
			"op", op,
			"client_id", id,
			"coach_id", sess.CoachID,
		)
		return domain.Client{}, domain.Forbidden(op, msgNotAllowed)
	}
	return c, nil
}

// =============================================================================
// Save
// =============================================================================

func (s *clientService) Save(ctx context.Context, sess domain.Session, opts SaveOptions) (SaveResult, error) {
	const op = "client.save"

	if err := requireSession(op, sess); err != nil {
		return SaveResult{}, err
	}

	form := s.history.Present()
	payload := domain.PayloadFromForm(form)

	var existing domain.Client
	if form.IsNew() {
		payload.AssignedCoachID = sess.AssignedCoachID(s.defaultCoachID)
	} else {
		c, err := s.manageable(ctx, op, sess, form.ClientID)
		if err != nil {
			if domain.ErrorCode(err) == domain.ENOTFOUND && !s.signal.Online() {
				return SaveResult{}, domain.Errorf(domain.EUNAVAILABLE, op,
					"This client is not available offline. Reconnect to save it.")
			}
			return SaveResult{}, err
		}
		existing = c
	}

	if form.IsNew() && !opts.SkipDuplicateCheck {
		if err := s.ensureRoster(ctx, sess); err != nil {
			s.logger.Warn("duplicate check without a current roster", "error", err)
		}
		pending, err := s.queue.PendingDeletes(ctx)
		if err != nil {
			return SaveResult{}, domain.Internal(err, op, "failed to read offline queue")
		}
		visible := domain.VisibleTo(s.roster.Clients(), sess)
		res := duplicate.Check(duplicate.CandidateFromForm(form), visible, pending)
		metrics.DuplicateChecks.WithLabelValues(string(res.Kind)).Inc()
		if res.Found() {
			metrics.ClientsSaved.WithLabelValues(string(OutcomeDuplicate)).Inc()
			s.logger.Info("possible duplicate client",
				"kind", res.Kind,
				"reason", res.Reason,
				"match_id", res.Match.ID,
			)
			return SaveResult{Outcome: OutcomeDuplicate, Duplicate: &res}, nil
		}
	}

	now := s.now()
	item := domain.NewSaveItem(form.ClientID, payload, now)
	docID, queued, err := s.write(ctx, op, item)
	if err != nil {
		return SaveResult{}, err
	}

	if queued {
		if !form.IsNew() {
			c := existing
			c.ID = form.ClientID
			c = c.Apply(payload)
			c.UpdatedAt = &now
			s.roster.Upsert(c)
		}
		metrics.ClientsSaved.WithLabelValues(string(OutcomeQueued)).Inc()
		return SaveResult{
			Outcome:  OutcomeQueued,
			ClientID: form.ClientID,
			Notice:   "Saved offline. Will sync when online.",
		}, nil
	}

	if form.IsNew() {
		s.history.Update(ctx, history.SetClientID(docID))
	}
	s.refresh(ctx, docID, func() domain.Client {
		c := existing
		c.ID = docID
		c = c.Apply(payload)
		if c.CreatedAt == nil {
			c.CreatedAt = &now
		}
		c.UpdatedAt = &now
		return c
	})

	metrics.ClientsSaved.WithLabelValues(string(OutcomeSaved)).Inc()
	s.logger.Info("client saved",
		"client_id", docID,
		"created", form.IsNew(),
		"coach_id", sess.CoachID,
	)
	return SaveResult{
		Outcome:  OutcomeSaved,
		ClientID: docID,
		Notice:   "Client saved successfully",
	}, nil
}

// =============================================================================
// Delete and Restore
// =============================================================================

func (s *clientService) Delete(ctx context.Context, sess domain.Session, id string) (MutationResult, error) {
	const op = "client.delete"

	c, err := s.manageable(ctx, op, sess, id)
	if err != nil {
		return MutationResult{}, err
	}

	now := s.now()
	_, queued, err := s.write(ctx, op, domain.NewDeleteItem(id, now))
	if err != nil {
		return MutationResult{}, err
	}
	s.roster.MarkDeleted(id, now)
	if !queued {
		s.refresh(ctx, id, nil)
	}

	s.mu.Lock()
	s.lastDeleted = &LastDeleted{
		ClientID:   id,
		ClientName: c.DisplayName(),
		DeletedAt:  now,
		UndoUntil:  now.Add(UndoDeleteWindow),
	}
	s.mu.Unlock()

	s.logger.Info("client deleted", "client_id", id, "queued", queued)
	return mutationResult(queued, []string{id}, "Client deleted."), nil
}

func (s *clientService) Restore(ctx context.Context, sess domain.Session, id string) (MutationResult, error) {
	const op = "client.restore"

	if _, err := s.manageable(ctx, op, sess, id); err != nil {
		return MutationResult{}, err
	}

	queued, err := s.restore(ctx, op, id)
	if err != nil {
		return MutationResult{}, err
	}
	s.clearLastDeleted(id)

	s.logger.Info("client restored", "client_id", id, "queued", queued)
	return mutationResult(queued, []string{id}, "Client restored."), nil
}

func (s *clientService) restore(ctx context.Context, op, id string) (bool, error) {
	_, queued, err := s.write(ctx, op, domain.NewUndeleteItem(id, s.now()))
	if err != nil {
		return false, err
	}
	s.roster.MarkRestored(id)
	if !queued {
		s.refresh(ctx, id, nil)
	}
	return queued, nil
}

func (s *clientService) RestoreAll(ctx context.Context, sess domain.Session) (MutationResult, error) {
	const op = "client.restore_all"

	if err := requireSession(op, sess); err != nil {
		return MutationResult{}, err
	}
	deleted, err := s.recycleBin(ctx, op, sess)
	if err != nil {
		return MutationResult{}, err
	}
	if len(deleted) == 0 {
		return MutationResult{Outcome: OutcomeNoop, ClientIDs: []string{}}, nil
	}

	ids := make([]string, len(deleted))
	for i, c := range deleted {
		ids[i] = c.ID
	}

	queued, err := s.restoreMany(ctx, op, ids)
	if err != nil {
		return MutationResult{}, err
	}
	s.clearLastDeleted("")

	s.logger.Info("clients restored", "count", len(ids), "queued", queued)
	return mutationResult(queued, ids, "All clients restored."), nil
}

// restoreMany restores ids in parallel when the queue is empty and the
// store is reachable. If the store drops out part way, the clients not yet
// restored are queued.
func (s *clientService) restoreMany(ctx context.Context, op string, ids []string) (bool, error) {
	if !s.signal.Online() || s.queueBusy(ctx) {
		queued := false
		for _, id := range ids {
			q, err := s.restore(ctx, op, id)
			if err != nil {
				return false, err
			}
			queued = queued || q
		}
		return queued, nil
	}

	var (
		mu   sync.Mutex
		done = make(map[string]bool, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := outbox.Apply(gctx, s.store, domain.NewUndeleteItem(id, s.now())); err != nil {
				return err
			}
			mu.Lock()
			done[id] = true
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	for id := range done {
		s.roster.MarkRestored(id)
		s.refresh(ctx, id, nil)
	}
	if err == nil {
		return false, nil
	}
	if !docstore.IsUnavailable(err) {
		return false, domain.Internal(err, op, "failed to restore clients")
	}

	s.logger.Warn("store unreachable during restore, queueing the rest", "error", err)
	s.markOffline()
	for _, id := range ids {
		if done[id] {
			continue
		}
		if err := s.enqueue(ctx, op, domain.NewUndeleteItem(id, s.now())); err != nil {
			return false, err
		}
		s.roster.MarkRestored(id)
	}
	return true, nil
}

func (s *clientService) UndoDelete(ctx context.Context, sess domain.Session) (MutationResult, error) {
	const op = "client.undo_delete"

	s.mu.Lock()
	last := s.lastDeleted
	s.mu.Unlock()

	if last == nil || s.now().After(last.UndoUntil) {
		return MutationResult{}, domain.Errorf(domain.EGONE, op, "There is no delete to undo.")
	}
	if _, err := s.manageable(ctx, op, sess, last.ClientID); err != nil {
		return MutationResult{}, err
	}

	queued, err := s.restore(ctx, op, last.ClientID)
	if err != nil {
		return MutationResult{}, err
	}
	s.clearLastDeleted(last.ClientID)

	s.logger.Info("client delete undone", "client_id", last.ClientID, "queued", queued)
	return mutationResult(queued, []string{last.ClientID}, "Delete undone."), nil
}

func (s *clientService) EmptyRecycleBin(ctx context.Context, sess domain.Session) (MutationResult, error) {
	const op = "client.empty_recycle_bin"

	if err := requireSession(op, sess); err != nil {
		return MutationResult{}, err
	}
	if !s.signal.Online() {
		return MutationResult{}, domain.Unavailable(op, "The recycle bin can only be emptied while online.")
	}
	deleted, err := s.recycleBin(ctx, op, sess)
	if err != nil {
		return MutationResult{}, err
	}

	// Only documents the store itself holds as deleted are removed. A client
	// whose delete is still queued stays until the queue has been replayed.
	docs := make([]docstore.Document, 0, len(deleted))
	for _, c := range deleted {
		doc, ok, err := s.store.Get(ctx, domain.CollectionClients, c.ID)
		if err != nil {
			return MutationResult{}, s.storeError(err, op, "failed to read client")
		}
		if !ok {
			s.roster.Forget(c.ID)
			continue
		}
		if domain.ClientFromFields(doc.ID, doc.Fields).IsDeleted() {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return MutationResult{Outcome: OutcomeNoop, ClientIDs: []string{}}, nil
	}

	purged, err := s.purger.purge(ctx, docs, storage.ReasonRecycleBinEmptied)
	s.roster.Forget(purged...)
	if err != nil {
		return MutationResult{}, s.storeError(err, op, "failed to empty recycle bin")
	}
	s.clearLastDeleted("")

	s.logger.Info("recycle bin emptied", "count", len(purged), "coach_id", sess.CoachID)
	return MutationResult{Outcome: OutcomeSaved, ClientIDs: purged, Notice: "Recycle Bin emptied."}, nil
}

// recycleBin returns the session's soft-deleted clients, including those
// whose delete is still queued.
func (s *clientService) recycleBin(ctx context.Context, op string, sess domain.Session) ([]domain.Client, error) {
	if err := s.ensureRoster(ctx, sess); err != nil {
		return nil, err
	}
	pending, err := s.queue.PendingDeletes(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read offline queue")
	}
	return domain.DeletedClients(domain.VisibleTo(s.roster.Clients(), sess), pending), nil
}

func (s *clientService) clearLastDeleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDeleted != nil && (id == "" || s.lastDeleted.ClientID == id) {
		s.lastDeleted = nil
	}
}

// =============================================================================
// Sync
// =============================================================================

func (s *clientService) Sync(ctx context.Context) (SyncResult, error) {
	res, err := s.replay(ctx, "client.sync")
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		Applied:   len(res.Applied),
		Remaining: res.Remaining,
		Stopped:   res.Failed,
		Duration:  res.Duration,
	}, nil
}

// replay runs one pass over the offline write queue. A pass that stops at
// a failing item is not an error.
func (s *clientService) replay(ctx context.Context, op string) (outbox.ReplayResult, error) {
	res, err := s.queue.Replay(ctx, s.store)
	if errors.Is(err, outbox.ErrReplayInProgress) {
		metrics.ReplaysTotal.WithLabelValues("skipped").Inc()
		return res, domain.Errorf(domain.ECONFLICT, op, "A sync is already running.")
	}
	if err != nil && res.Failed == nil {
		return res, domain.Internal(err, op, "failed to replay offline queue")
	}

	metrics.ReplayedItems.Add(float64(len(res.Applied)))
	s.reconcile(ctx, res.Applied)
	s.updateQueueDepth(ctx)

	switch {
	case err != nil:
		metrics.ReplaysTotal.WithLabelValues("partial").Inc()
		if docstore.IsUnavailable(err) {
			s.markOffline()
		}
	case len(res.Applied) > 0:
		metrics.ReplaysTotal.WithLabelValues("complete").Inc()
	}
	return res, nil
}

// reconcile replaces the intents of replayed clients with what the store
// now holds. Clients that still have queued items keep their intents.
func (s *clientService) reconcile(ctx context.Context, applied []outbox.Applied) {
	if len(applied) == 0 {
		return
	}
	items, err := s.queue.Items(ctx)
	if err != nil {
		s.logger.Warn("failed to read offline queue for reconcile", "error", err)
		return
	}
	stillQueued := make(map[string]bool, len(items))
	for _, item := range items {
		stillQueued[item.ClientID] = true
	}

	seen := make(map[string]bool, len(applied))
	for _, a := range applied {
		id := a.DocumentID
		if id == "" || seen[id] || stillQueued[id] {
			continue
		}
		seen[id] = true
		s.refresh(ctx, id, nil)
	}
}

// refresh confirms a client from the store. When the read fails and
// fallback is set, its result is kept as an intent instead.
func (s *clientService) refresh(ctx context.Context, id string, fallback func() domain.Client) {
	doc, ok, err := s.store.Get(ctx, domain.CollectionClients, id)
	switch {
	case err != nil:
		s.logger.Warn("failed to refresh client", "client_id", id, "error", err)
		if fallback != nil {
			s.roster.Upsert(fallback())
		}
	case !ok:
		s.roster.Forget(id)
	default:
		s.roster.Confirm(domain.ClientFromFields(doc.ID, doc.Fields))
	}
}

func (s *clientService) Status(ctx context.Context) (Status, error) {
	const op = "client.status"

	items, err := s.queue.Items(ctx)
	if err != nil {
		return Status{}, domain.Internal(err, op, "failed to read offline queue")
	}

	st := Status{
		Online:         s.signal.Online(),
		QueueDepth:     len(items),
		PendingDeletes: len(domain.PendingDeletes(items)),
		PendingIntents: s.roster.PendingIntents(),
	}

	s.mu.Lock()
	if s.lastDeleted != nil && !s.now().After(s.lastDeleted.UndoUntil) {
		last := *s.lastDeleted
		st.LastDeleted = &last
	}
	s.mu.Unlock()
	return st, nil
}

// =============================================================================
// Writes
// =============================================================================

// write applies item to the store when it is reachable and queues it
// otherwise. While older items are queued, item is queued behind them and
// the queue is replayed so writes reach the store in order. It returns the
// affected document ID (empty when queued) and whether item was queued.
func (s *clientService) write(ctx context.Context, op string, item domain.QueueItem) (string, bool, error) {
	if s.signal.Online() {
		if s.queueBusy(ctx) {
			return s.writeBehindQueue(ctx, op, item)
		}

		id, err := outbox.Apply(ctx, s.store, item)
		if err == nil {
			return id, false, nil
		}
		if !docstore.IsUnavailable(err) {
			if errors.Is(err, docstore.ErrNotFound) {
				return "", false, domain.NotFound(op, "client", item.ClientID)
			}
			return "", false, domain.Internal(err, op, "failed to write client")
		}
		s.logger.Warn("store unreachable, queueing change", "op", op, "error", err)
		s.markOffline()
	}

	if err := s.enqueue(ctx, op, item); err != nil {
		return "", false, err
	}
	return "", true, nil
}

func (s *clientService) writeBehindQueue(ctx context.Context, op string, item domain.QueueItem) (string, bool, error) {
	queued, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		return "", false, domain.Internal(err, op, "failed to queue change")
	}
	metrics.QueueEnqueued.WithLabelValues(string(queued.Action)).Inc()

	res, err := s.replay(ctx, op)
	if err != nil {
		s.logger.Debug("queued change waits for the next sync", "queue_item_id", queued.ID, "error", err)
		return "", true, nil
	}
	for _, a := range res.Applied {
		if a.Item.ID == queued.ID {
			return a.DocumentID, false, nil
		}
	}
	return "", true, nil
}

func (s *clientService) enqueue(ctx context.Context, op string, item domain.QueueItem) error {
	queued, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		return domain.Internal(err, op, "failed to queue change")
	}
	metrics.QueueEnqueued.WithLabelValues(string(queued.Action)).Inc()
	s.updateQueueDepth(ctx)

	s.logger.Info("change queued",
		"op", op,
		"action", queued.Action,
		"client_id", queued.ClientID,
		"queue_item_id", queued.ID,
	)
	return nil
}

func (s *clientService) queueBusy(ctx context.Context) bool {
	n, err := s.queue.Len(ctx)
	return err == nil && n > 0
}

func (s *clientService) updateQueueDepth(ctx context.Context) {
	if n, err := s.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

func (s *clientService) markOffline() {
	if m, ok := s.signal.(interface{ MarkOffline() }); ok {
		m.MarkOffline()
	}
}

func (s *clientService) storeError(err error, op, message string) error {
	if docstore.IsUnavailable(err) {
		s.markOffline()
		return domain.Wrap(err, domain.EUNAVAILABLE, op, "The client store is unreachable.")
	}
	return domain.Internal(err, op, message)
}

func requireSession(op string, sess domain.Session) error {
	if !sess.Valid() {
		return domain.Unauthorized(op, "Sign in to continue.")
	}
	return nil
}

func mutationResult(queued bool, ids []string, notice string) MutationResult {
	if queued {
		return MutationResult{
			Outcome:   OutcomeQueued,
			ClientIDs: ids,
			Notice:    notice[:len(notice)-1] + " (offline).",
		}
	}
	return MutationResult{Outcome: OutcomeSaved, ClientIDs: ids, Notice: notice}
}
