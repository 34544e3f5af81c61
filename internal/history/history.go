// Package history implements the undoable form store.
//
// A Store owns exactly one editable FormState with a bounded, linear
// undo/redo history. Every change to the present state is mirrored to the
// local cache so the draft survives a restart; the undo history does not.
package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/wellpass/internal/cache"
	"github.com/DukeRupert/wellpass/internal/domain"
)

// MaxHistory bounds the number of past states kept for undo.
const MaxHistory = 100

// persistTimeout bounds a single cache write.
const persistTimeout = 2 * time.Second

// Updater computes the next form from the present one. Returning a value
// equal to its input means "nothing changed".
type Updater func(domain.FormState) domain.FormState

// Transition names the kind of change applied to the store.
type Transition string

const (
	TransitionUpdate Transition = "update"
	TransitionUndo   Transition = "undo"
	TransitionRedo   Transition = "redo"
	TransitionClear  Transition = "clear"
)

// Snapshot is a read-only view of the store.
type Snapshot struct {
	Present     domain.FormState `json:"present"`
	PastDepth   int              `json:"pastDepth"`
	FutureDepth int              `json:"futureDepth"`
	CanUndo     bool             `json:"canUndo"`
	CanRedo     bool             `json:"canRedo"`
}

// Store holds the present form with its past and future.
type Store struct {
	mu      sync.Mutex
	past    []domain.FormState // oldest first
	present domain.FormState
	future  []domain.FormState // most recently undone first

	cache    cache.Cache
	logger   *slog.Logger
	observer func(Transition)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers a callback invoked after every applied transition.
// No-op transitions are not reported.
func WithObserver(fn func(Transition)) Option {
	return func(s *Store) {
		s.observer = fn
	}
}

// New creates a store whose present is the default form. A nil cache
// disables persistence.
func New(c cache.Cache, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		present: domain.DefaultFormState(),
		cache:   c,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load creates a store whose present is the form persisted in the cache.
// A missing or unreadable entry yields the default form.
func Load(ctx context.Context, c cache.Cache, logger *slog.Logger, opts ...Option) *Store {
	s := New(c, logger, opts...)
	if c == nil {
		return s
	}

	raw, ok, err := c.Get(ctx, cache.FormStateKey)
	if err != nil {
		s.logger.Warn("failed to read cached form", "error", err)
		return s
	}
	if !ok {
		return s
	}

	form, err := domain.DecodeFormState([]byte(raw))
	if err != nil {
		s.logger.Warn("discarding corrupt cached form", "error", err)
		return s
	}
	s.present = form
	return s
}

// Present returns the current form.
func (s *Store) Present() domain.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

// Snapshot returns the present form and the history depths.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Present:     s.present,
		PastDepth:   len(s.past),
		FutureDepth: len(s.future),
		CanUndo:     len(s.past) > 0,
		CanRedo:     len(s.future) > 0,
	}
}

// Past returns a copy of the past states, oldest first.
func (s *Store) Past() []domain.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FormState(nil), s.past...)
}

// Future returns a copy of the redo states, most recently undone first.
func (s *Store) Future() []domain.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FormState(nil), s.future...)
}

// Update applies fn to the present form. If the result equals the present
// form nothing happens. Otherwise the present form is pushed onto the past
// and the future is discarded. It reports whether the store changed.
func (s *Store) Update(ctx context.Context, fn Updater) (Snapshot, bool) {
	return s.update(ctx, fn, TransitionUpdate)
}

func (s *Store) update(ctx context.Context, fn Updater, t Transition) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.present)
	if next == s.present {
		return s.snapshotLocked(), false
	}
	s.pushPastLocked(s.present)
	s.present = next
	s.future = nil
	s.committedLocked(ctx, t)
	return s.snapshotLocked(), true
}

// Undo restores the most recent past form. It is a no-op when there is
// nothing to undo.
func (s *Store) Undo(ctx context.Context) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.past) == 0 {
		return s.snapshotLocked(), false
	}
	last := len(s.past) - 1
	previous := s.past[last]
	s.past = s.past[:last]
	s.future = append([]domain.FormState{s.present}, s.future...)
	s.present = previous
	s.committedLocked(ctx, TransitionUndo)
	return s.snapshotLocked(), true
}

// Redo re-applies the most recently undone form. It is a no-op when there
// is nothing to redo. The past stays bounded by MaxHistory.
func (s *Store) Redo(ctx context.Context) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.future) == 0 {
		return s.snapshotLocked(), false
	}
	next := s.future[0]
	s.future = s.future[1:]
	s.pushPastLocked(s.present)
	s.present = next
	s.committedLocked(ctx, TransitionRedo)
	return s.snapshotLocked(), true
}

// Clear resets the present to a blank form, keeping the coach name. It is
// recorded like any other update.
func (s *Store) Clear(ctx context.Context) (Snapshot, bool) {
	return s.update(ctx, ClearForm, TransitionClear)
}

// ClearForm returns a blank form that keeps the coach name of f.
func ClearForm(f domain.FormState) domain.FormState {
	next := domain.DefaultFormState()
	next.Page2Data.Coach = f.Page2Data.Coach
	return next
}

func (s *Store) pushPastLocked(f domain.FormState) {
	s.past = append(s.past, f)
	if over := len(s.past) - MaxHistory; over > 0 {
		// Copy so the evicted prefix is not retained by the backing array.
		s.past = append([]domain.FormState(nil), s.past[over:]...)
	}
}

// committedLocked runs the side effects of an applied transition. The cache
// write happens under the lock so writes land in transition order.
func (s *Store) committedLocked(ctx context.Context, t Transition) {
	s.persist(ctx, s.present)
	if s.observer != nil {
		s.observer(t)
	}
}

// persist mirrors the present form to the cache. Failures are logged and
// otherwise ignored.
func (s *Store) persist(ctx context.Context, present domain.FormState) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(present)
	if err != nil {
		s.logger.Error("failed to encode form for cache", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, cache.FormStateKey, string(data)); err != nil {
		s.logger.Warn("failed to persist form", "error", err)
	}
}
