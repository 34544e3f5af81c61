package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/history"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FormService edits the in-progress wellness pass.
type FormService interface {
	// Snapshot returns the present form with its undo/redo depths.
	Snapshot() history.Snapshot

	// Patch applies edits as a single undoable step.
	// Returns domain.EINVALID for an unknown section, field or row.
	Patch(ctx context.Context, edits []FieldEdit) (history.Snapshot, error)

	// Replace swaps in a whole form as a single undoable step.
	Replace(ctx context.Context, form domain.FormState) history.Snapshot

	// Undo steps back. The boolean is false when there is nothing to undo.
	Undo(ctx context.Context) (history.Snapshot, bool)

	// Redo steps forward. The boolean is false when there is nothing to redo.
	Redo(ctx context.Context) (history.Snapshot, bool)

	// Clear blanks the form, keeping the coach.
	Clear(ctx context.Context) history.Snapshot

	// Export returns the form together with its document title.
	Export() PassExport
}

// Form sections addressed by FieldEdit.
const (
	SectionAppointment = "appointment"
	SectionEvaluation  = "evaluation"
	SectionPage2       = "page2"
	SectionContact     = "contact"
)

// FieldEdit sets one field of the form. Index selects the appointment row
// and is ignored by other sections.
type FieldEdit struct {
	Section string `json:"section"`
	Index   int    `json:"index,omitempty"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

// PassExport is the printable form.
type PassExport struct {
	Title  string              `json:"title"`
	Form   domain.FormState    `json:"form"`
	Latest *domain.Appointment `json:"latestAppointment,omitempty"`
}

// =============================================================================
// Implementation
// =============================================================================

type formService struct {
	history *history.Store
	logger  *slog.Logger
}

// NewFormService creates a new FormService.
func NewFormService(h *history.Store, logger *slog.Logger) FormService {
	return &formService{
		history: h,
		logger:  logger,
	}
}

func (s *formService) Snapshot() history.Snapshot {
	return s.history.Snapshot()
}

func (s *formService) Patch(ctx context.Context, edits []FieldEdit) (history.Snapshot, error) {
	const op = "form.patch"

	if len(edits) == 0 {
		return history.Snapshot{}, domain.Invalid(op, "at least one edit is required")
	}

	updaters := make([]history.Updater, 0, len(edits))
	for _, e := range edits {
		fn, err := updaterFor(e)
		if err != nil {
			return history.Snapshot{}, err
		}
		updaters = append(updaters, fn)
	}

	snap, _ := s.history.Update(ctx, history.Chain(updaters...))
	return snap, nil
}

func updaterFor(e FieldEdit) (history.Updater, error) {
	switch e.Section {
	case SectionAppointment:
		return history.SetAppointmentField(e.Index, e.Field, e.Value)
	case SectionEvaluation:
		return history.SetEvaluation(e.Field, e.Value)
	case SectionPage2:
		return history.SetPage2Field(e.Field, e.Value)
	case SectionContact:
		return history.SetContact(e.Field, e.Value)
	default:
		return nil, domain.Invalid("form.patch", fmt.Sprintf("unknown form section %q", e.Section))
	}
}

func (s *formService) Replace(ctx context.Context, form domain.FormState) history.Snapshot {
	snap, _ := s.history.Update(ctx, history.Replace(form))
	return snap
}

func (s *formService) Undo(ctx context.Context) (history.Snapshot, bool) {
	return s.history.Undo(ctx)
}

func (s *formService) Redo(ctx context.Context) (history.Snapshot, bool) {
	return s.history.Redo(ctx)
}

func (s *formService) Clear(ctx context.Context) history.Snapshot {
	snap, _ := s.history.Clear(ctx)
	return snap
}

func (s *formService) Export() PassExport {
	form := s.history.Present()
	out := PassExport{
		Title: domain.PassTitle(form.Page2Data),
		Form:  form,
	}
	if latest, _, ok := form.LatestAppointment(); ok {
		out.Latest = &latest
	}
	return out
}
