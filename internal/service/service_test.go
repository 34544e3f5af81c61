package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wellpass/internal/cache"
	"github.com/DukeRupert/wellpass/internal/connectivity"
	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/history"
	"github.com/DukeRupert/wellpass/internal/outbox"
)

var (
	admin = domain.Session{Role: domain.RoleAdmin}
	coach = domain.Session{Role: domain.RoleCoach, CoachID: "coach-1", CoachName: "Ana"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a client service to in-memory collaborators.
type harness struct {
	store  *docstore.Memory
	queue  *outbox.Queue
	hist   *history.Store
	roster *Roster
	signal *connectivity.Static
	svc    *clientService
	clock  time.Time
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	logger := testLogger()
	c := cache.NewMemory()
	h := &harness{
		store:  docstore.NewMemory(),
		queue:  outbox.New(c, logger),
		hist:   history.New(c, logger),
		roster: NewRoster(),
		signal: connectivity.NewStatic(online),
		clock:  time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	h.svc = NewClientService(ClientServiceDeps{
		Store:          h.store,
		Queue:          h.queue,
		History:        h.hist,
		Roster:         h.roster,
		Signal:         h.signal,
		DefaultCoachID: "default-coach",
	}, logger).(*clientService)
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) seed(t *testing.T, fields docstore.Fields) string {
	t.Helper()
	if _, ok := fields[domain.FieldUpdatedAt]; !ok {
		fields[domain.FieldUpdatedAt] = docstore.ServerTimestamp
	}
	id, err := h.store.Insert(context.Background(), domain.CollectionClients, fields)
	require.NoError(t, err)
	return id
}

// fill types a name, phone and email into the form.
func (h *harness) fill(t *testing.T, name, phone, email string) {
	t.Helper()
	setName, err := history.SetPage2Field("name", name)
	require.NoError(t, err)
	setPhone, err := history.SetContact("phone", phone)
	require.NoError(t, err)
	setEmail, err := history.SetContact("email", email)
	require.NoError(t, err)
	h.hist.Update(context.Background(), history.Chain(setName, setPhone, setEmail))
}

func (h *harness) doc(t *testing.T, id string) docstore.Document {
	t.Helper()
	doc, ok, err := h.store.Get(context.Background(), domain.CollectionClients, id)
	require.NoError(t, err)
	require.True(t, ok, "document %s missing", id)
	return doc
}
