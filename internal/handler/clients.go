package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/wellpass/internal/auth"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/service"
)

// =============================================================================
// Handler Configuration
// =============================================================================

// ClientHandler handles roster and client mutation requests.
type ClientHandler struct {
	clients service.ClientService
	logger  *slog.Logger
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(clients service.ClientService, logger *slog.Logger) *ClientHandler {
	return &ClientHandler{clients: clients, logger: logger}
}

// RegisterRoutes registers the client routes on the mux behind mw.
func (h *ClientHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	mux.Handle("GET /api/clients", mw(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/clients/save", mw(http.HandlerFunc(h.Save)))
	mux.Handle("POST /api/clients/restore-all", mw(http.HandlerFunc(h.RestoreAll)))
	mux.Handle("POST /api/clients/undo-delete", mw(http.HandlerFunc(h.UndoDelete)))
	mux.Handle("GET /api/clients/{id}", mw(http.HandlerFunc(h.Show)))
	mux.Handle("POST /api/clients/{id}/open", mw(http.HandlerFunc(h.Open)))
	mux.Handle("DELETE /api/clients/{id}", mw(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/clients/{id}/restore", mw(http.HandlerFunc(h.Restore)))
	mux.Handle("DELETE /api/recycle-bin", mw(http.HandlerFunc(h.EmptyRecycleBin)))
	mux.Handle("POST /api/sync", mw(http.HandlerFunc(h.Sync)))
	mux.Handle("GET /api/status", mw(http.HandlerFunc(h.Status)))
}

// =============================================================================
// GET /api/clients - List Clients
// =============================================================================

// ClientListResponse is the body of GET /api/clients.
type ClientListResponse struct {
	View    domain.RosterView `json:"view"`
	Sort    domain.RosterSort `json:"sort"`
	Count   int               `json:"count"`
	Clients []domain.Client   `json:"clients"`
}

// List returns the roster filtered by the view, search and sort query
// parameters. The byDate view takes a date as YYYY-MM-DD or DD-Month-YYYY.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := domain.ListClientsParams{
		View:   domain.RosterView(q.Get("view")),
		Sort:   domain.RosterSort(q.Get("sort")),
		Search: q.Get("search"),
	}
	if raw := q.Get("date"); raw != "" {
		date, ok := parseQueryDate(raw)
		if !ok {
			ErrorResponse(w, r, h.logger, domain.Invalid("handler.clients.list", "Date must be YYYY-MM-DD or DD-Month-YYYY."))
			return
		}
		params.Date = date
	}

	clients, err := h.clients.List(r.Context(), session(r), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if clients == nil {
		clients = []domain.Client{}
	}

	resp := ClientListResponse{View: params.View, Sort: params.Sort, Count: len(clients), Clients: clients}
	if resp.View == "" {
		resp.View = domain.ViewAll
	}
	if resp.Sort == "" {
		resp.Sort = domain.SortUpdatedAtDesc
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// GET /api/clients/{id} - Show Client
// =============================================================================

// Show returns one client.
func (h *ClientHandler) Show(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.Get(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// =============================================================================
// POST /api/clients/{id}/open - Open Client In Form
// =============================================================================

// Open loads the client into the form as an undoable step.
func (h *ClientHandler) Open(w http.ResponseWriter, r *http.Request) {
	snap, err := h.clients.Open(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// POST /api/clients/save - Save Form
// =============================================================================

// Save writes the present form. A duplicate match is answered with 409 and
// the match in the body; the client resends with skipDuplicateCheck to
// save anyway. A save that was queued offline is answered with 202.
func (h *ClientHandler) Save(w http.ResponseWriter, r *http.Request) {
	var opts service.SaveOptions
	if err := decodeJSON(r, &opts); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.clients.Save(r.Context(), session(r), opts)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case service.OutcomeDuplicate:
		status = http.StatusConflict
	case service.OutcomeQueued:
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// =============================================================================
// DELETE /api/clients/{id} - Delete Client
// POST /api/clients/{id}/restore - Restore Client
// =============================================================================

// Delete moves a client to the recycle bin.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.Delete(r.Context(), session(r), r.PathValue("id"))
	h.writeMutation(w, r, result, err)
}

// Restore takes a client out of the recycle bin.
func (h *ClientHandler) Restore(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.Restore(r.Context(), session(r), r.PathValue("id"))
	h.writeMutation(w, r, result, err)
}

// =============================================================================
// POST /api/clients/restore-all, /undo-delete
// DELETE /api/recycle-bin
// =============================================================================

// RestoreAll restores the whole recycle bin.
func (h *ClientHandler) RestoreAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.RestoreAll(r.Context(), session(r))
	h.writeMutation(w, r, result, err)
}

// UndoDelete restores the most recently deleted client.
func (h *ClientHandler) UndoDelete(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.UndoDelete(r.Context(), session(r))
	h.writeMutation(w, r, result, err)
}

// EmptyRecycleBin permanently removes the recycle bin. Only works online.
func (h *ClientHandler) EmptyRecycleBin(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.EmptyRecycleBin(r.Context(), session(r))
	h.writeMutation(w, r, result, err)
}

// =============================================================================
// POST /api/sync - Replay Offline Queue
// GET /api/status - Sync Status
// =============================================================================

// Sync replays the offline write queue.
func (h *ClientHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.clients.Sync(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status reports connectivity, queue depth and the undoable delete.
func (h *ClientHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.clients.Status(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// Helper Functions
// =============================================================================

func (h *ClientHandler) writeMutation(w http.ResponseWriter, r *http.Request, result service.MutationResult, err error) {
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if result.ClientIDs == nil {
		result.ClientIDs = []string{}
	}
	status := http.StatusOK
	if result.Outcome == service.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// session returns the request's session. Without one the zero session is
// returned and the service rejects it.
func session(r *http.Request) domain.Session {
	sess, _ := auth.GetSessionFromRequest(r)
	return sess
}

// parseQueryDate accepts an ISO date or a pass-style date.
func parseQueryDate(raw string) (time.Time, bool) {
	if t, err := time.ParseInLocation("2006-01-02", raw, time.Local); err == nil {
		return t, true
	}
	return domain.ParseClientDate(raw)
}
