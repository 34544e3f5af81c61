// Package handler contains the HTTP handlers of the wellness pass API.
//
// This file implements the form editing handlers: field edits, whole-form
// replacement, undo/redo and export.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/service"
)

// maxBodyBytes caps request bodies. A full form is a few kilobytes.
const maxBodyBytes = 1 << 20

// =============================================================================
// Handler Configuration
// =============================================================================

// FormHandler handles requests against the in-progress pass.
type FormHandler struct {
	forms  service.FormService
	logger *slog.Logger
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(forms service.FormService, logger *slog.Logger) *FormHandler {
	return &FormHandler{forms: forms, logger: logger}
}

// RegisterRoutes registers the form routes on the mux behind mw.
func (h *FormHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	mux.Handle("GET /api/form", mw(http.HandlerFunc(h.Show)))
	mux.Handle("PATCH /api/form", mw(http.HandlerFunc(h.Patch)))
	mux.Handle("PUT /api/form", mw(http.HandlerFunc(h.Replace)))
	mux.Handle("POST /api/form/undo", mw(http.HandlerFunc(h.Undo)))
	mux.Handle("POST /api/form/redo", mw(http.HandlerFunc(h.Redo)))
	mux.Handle("POST /api/form/clear", mw(http.HandlerFunc(h.Clear)))
	mux.Handle("GET /api/form/export", mw(http.HandlerFunc(h.Export)))
}

// =============================================================================
// GET /api/form - Show Form
// =============================================================================

// Show returns the present form with its undo/redo state.
func (h *FormHandler) Show(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.forms.Snapshot())
}

// =============================================================================
// PATCH /api/form - Edit Fields
// =============================================================================

// PatchFormRequest is the body of PATCH /api/form.
type PatchFormRequest struct {
	Edits []service.FieldEdit `json:"edits"`
}

// Patch applies a batch of field edits as one undoable step.
func (h *FormHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req PatchFormRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	snap, err := h.forms.Patch(r.Context(), req.Edits)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// PUT /api/form - Replace Form
// =============================================================================

// Replace swaps in a whole form. Missing or malformed sections fall back to
// their blank values.
func (h *FormHandler) Replace(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.form.replace", "Request body is too large."))
		return
	}

	form, err := domain.DecodeFormState(data)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.form.replace", "Request body must be a JSON form."))
		return
	}

	writeJSON(w, http.StatusOK, h.forms.Replace(r.Context(), form))
}

// =============================================================================
// POST /api/form/undo, /redo, /clear
// =============================================================================

// Undo steps the form back. With nothing to undo the form is returned
// unchanged.
func (h *FormHandler) Undo(w http.ResponseWriter, r *http.Request) {
	snap, _ := h.forms.Undo(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

// Redo steps the form forward. With nothing to redo the form is returned
// unchanged.
func (h *FormHandler) Redo(w http.ResponseWriter, r *http.Request) {
	snap, _ := h.forms.Redo(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

// Clear blanks the form, keeping the coach.
func (h *FormHandler) Clear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.forms.Clear(r.Context()))
}

// =============================================================================
// GET /api/form/export - Export Pass
// =============================================================================

// Export returns the printable pass with its document title.
func (h *FormHandler) Export(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.forms.Export())
}

// =============================================================================
// Helper Functions
// =============================================================================

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return domain.Invalid("handler.decode", "Request body must be valid JSON.")
	}
	return nil
}
