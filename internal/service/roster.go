// Package service contains the business logic layer.
//
// This file implements the roster read model: the last client list read
// from the persistent store with locally applied intents layered on top.
package service

import (
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/wellpass/internal/domain"
)

type intentKind int

const (
	intentUpsert intentKind = iota
	intentDelete
	intentUndelete
)

// intent is a local change that the persistent store has not confirmed.
type intent struct {
	kind   intentKind
	client domain.Client // upsert only
	at     time.Time     // delete only
}

// Roster is the in-memory client list shown to the user.
//
// The base list is what the store last returned. Intents record local
// changes (queued offline or applied optimistically) and are projected over
// the base until Confirm or Forget reconciles them.
type Roster struct {
	mu      sync.RWMutex
	base    map[string]domain.Client
	intents map[string]intent
	loaded  bool
	scope   string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		base:    make(map[string]domain.Client),
		intents: make(map[string]intent),
	}
}

// RosterScope identifies the set of clients a session can see: every
// client for admins, the assigned clients for a coach.
func RosterScope(sess domain.Session) string {
	if sess.IsAdmin() {
		return "admin"
	}
	return "coach:" + sess.CoachID
}

// Replace sets the base list read for scope. Outstanding intents are kept.
func (r *Roster) Replace(scope string, clients []domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.base = make(map[string]domain.Client, len(clients))
	for _, c := range clients {
		r.base[c.ID] = c
	}
	r.loaded = true
	r.scope = scope
}

// Loaded returns true once a base list has been read from the store.
func (r *Roster) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// LoadedFor returns true if the base list was last read for scope.
func (r *Roster) LoadedFor(scope string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded && r.scope == scope
}

// Upsert records a locally saved version of a client.
func (r *Roster) Upsert(c domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[c.ID] = intent{kind: intentUpsert, client: c}
}

// MarkDeleted records a local soft delete.
func (r *Roster) MarkDeleted(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[id] = r.layer(id, intent{kind: intentDelete, at: at})
}

// MarkRestored records a local restore.
func (r *Roster) MarkRestored(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[id] = r.layer(id, intent{kind: intentUndelete})
}

// layer folds a delete or restore into an outstanding upsert so the saved
// fields are not lost. Callers hold mu.
func (r *Roster) layer(id string, next intent) intent {
	prev, ok := r.intents[id]
	if !ok || prev.kind != intentUpsert {
		return next
	}
	c := prev.client
	applyState(&c, next)
	return intent{kind: intentUpsert, client: c}
}

// Confirm stores the authoritative version of a client and drops its intent.
func (r *Roster) Confirm(c domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base[c.ID] = c
	delete(r.intents, c.ID)
}

// Forget removes clients entirely, for example after a hard delete.
func (r *Roster) Forget(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.base, id)
		delete(r.intents, id)
	}
}

// Find returns the projected client with the given ID.
func (r *Roster) Find(id string) (domain.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.projectLocked(id)
}

// Clients returns the projected roster ordered by ID.
func (r *Roster) Clients() []domain.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make(map[string]struct{}, len(r.base)+len(r.intents))
	for id := range r.base {
		ids[id] = struct{}{}
	}
	for id := range r.intents {
		ids[id] = struct{}{}
	}

	out := make([]domain.Client, 0, len(ids))
	for id := range ids {
		if c, ok := r.projectLocked(id); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingIntents returns the number of unconfirmed local changes.
func (r *Roster) PendingIntents() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.intents)
}

func (r *Roster) projectLocked(id string) (domain.Client, bool) {
	c, ok := r.base[id]
	in, pending := r.intents[id]
	if !pending {
		return c, ok
	}
	if in.kind == intentUpsert {
		return in.client, true
	}
	if !ok {
		// A delete or restore for a client that was never loaded.
		return domain.Client{}, false
	}
	applyState(&c, in)
	return c, true
}

func applyState(c *domain.Client, in intent) {
	switch in.kind {
	case intentDelete:
		at := in.at
		c.DeletedAt = &at
		c.SyncStatus = domain.SyncStatusDeleted
	case intentUndelete:
		c.DeletedAt = nil
		c.SyncStatus = ""
	}
}
