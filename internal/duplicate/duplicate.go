// Package duplicate detects when a new client pass describes a client who
// is already on the roster.
package duplicate

import (
	"github.com/DukeRupert/wellpass/internal/domain"
)

// Kind classifies a duplicate check.
type Kind string

const (
	// None means no active client matches.
	None Kind = "none"
	// Strong means the phone or email of an active client matches.
	Strong Kind = "strong"
	// Name means only the name matches and the candidate has no contact
	// details to tell the two apart.
	Name Kind = "name"
)

// Reason is the field a strong match was made on.
type Reason string

const (
	ReasonPhone Reason = "phone"
	ReasonEmail Reason = "email"
	ReasonName  Reason = "name"
)

// Candidate is the identifying part of a pass about to be created.
type Candidate struct {
	Name  string
	Phone string
	Email string
}

// CandidateFromForm extracts the candidate from a form.
func CandidateFromForm(f domain.FormState) Candidate {
	return Candidate{Name: f.Page2Data.Name, Phone: f.Phone, Email: f.Email}
}

// Result is the outcome of a check.
type Result struct {
	Kind   Kind           `json:"type"`
	Reason Reason         `json:"reason,omitempty"`
	Match  *domain.Client `json:"match,omitempty"`
}

// Found returns true if any match was made.
func (r Result) Found() bool {
	return r.Kind != None
}

// Check compares the candidate with the active clients of roster. Clients
// that are soft-deleted or have a queued delete are ignored. Phone takes
// precedence over email and email over name; the name is only compared
// when the candidate has neither a phone nor an email.
//
// Check only reports. Whether to block the save is up to the caller.
func Check(c Candidate, roster []domain.Client, pendingDeletes map[string]bool) Result {
	active := domain.ActiveClients(roster, pendingDeletes)

	phone := domain.NormalizeKey(c.Phone)
	email := domain.NormalizeKey(c.Email)
	name := domain.NormalizeKey(c.Name)

	if phone != "" {
		if m := find(active, func(cl domain.Client) bool { return domain.NormalizeKey(cl.Phone) == phone }); m != nil {
			return Result{Kind: Strong, Reason: ReasonPhone, Match: m}
		}
	}
	if email != "" {
		if m := find(active, func(cl domain.Client) bool { return domain.NormalizeKey(cl.Email) == email }); m != nil {
			return Result{Kind: Strong, Reason: ReasonEmail, Match: m}
		}
	}
	if phone == "" && email == "" && name != "" {
		if m := find(active, func(cl domain.Client) bool { return domain.NormalizeKey(cl.ClientName) == name }); m != nil {
			return Result{Kind: Name, Reason: ReasonName, Match: m}
		}
	}
	return Result{Kind: None}
}

func find(clients []domain.Client, match func(domain.Client) bool) *domain.Client {
	for i := range clients {
		if match(clients[i]) {
			m := clients[i]
			return &m
		}
	}
	return nil
}
