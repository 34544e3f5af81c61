// Package domain contains core business types and interfaces.
//
// This file defines the Client roster entry read from the persistent store
// and the payload written to it when a pass is saved.
package domain

import (
	"time"
)

// CollectionClients is the document collection holding client passes.
const CollectionClients = "clients"

// Document field names shared by the store, the offline queue and the roster.
const (
	FieldClientName      = "clientName"
	FieldPhone           = "phone"
	FieldEmail           = "email"
	FieldCoach           = "coach"
	FieldDate            = "date"
	FieldAge             = "age"
	FieldPage2Data       = "page2Data"
	FieldAppointments    = "appointments"
	FieldEvaluation      = "evaluation"
	FieldAssignedCoachID = "assignedCoachId"
	FieldDeletedAt       = "deletedAt"
	FieldSyncStatus      = "syncStatus"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
)

// SyncStatusDeleted marks a soft-deleted document.
const SyncStatusDeleted = "deleted"

// =============================================================================
// Client Domain Type
// =============================================================================

// Client is one entry of the client roster.
type Client struct {
	ID              string                        `json:"id"`
	ClientName      string                        `json:"clientName"`
	Phone           string                        `json:"phone"`
	Email           string                        `json:"email"`
	Coach           string                        `json:"coach"`
	Date            string                        `json:"date"`
	Age             string                        `json:"age"`
	Page2Data       Page2Data                     `json:"page2Data"`
	Appointments    [AppointmentCount]Appointment `json:"appointments"`
	Evaluation      Evaluation                    `json:"evaluation"`
	DeletedAt       *time.Time                    `json:"deletedAt,omitempty"`
	SyncStatus      string                        `json:"syncStatus,omitempty"`
	AssignedCoachID string                        `json:"assignedCoachId"`
	CreatedAt       *time.Time                    `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time                    `json:"updatedAt,omitempty"`
}

// IsDeleted returns true if the client is soft-deleted.
func (c Client) IsDeleted() bool {
	return c.DeletedAt != nil || c.SyncStatus == SyncStatusDeleted
}

// DisplayName returns the client name or a placeholder when it is empty.
func (c Client) DisplayName() string {
	if c.ClientName != "" {
		return c.ClientName
	}
	return "Unnamed client"
}

// FormState loads the client into an editable form.
func (c Client) FormState() FormState {
	header := c.Page2Data
	header.Name = firstNonEmpty(c.ClientName, c.Page2Data.Name)
	header.Coach = firstNonEmpty(c.Coach, c.Page2Data.Coach)
	header.Date = firstNonEmpty(c.Date, c.Page2Data.Date)
	header.Age = firstNonEmpty(c.Page2Data.Age, c.Age)

	return FormState{
		ClientID:     c.ID,
		Page2Data:    header,
		Phone:        c.Phone,
		Email:        c.Email,
		Appointments: c.Appointments,
		Evaluation:   c.Evaluation,
	}
}

// Apply overwrites the client's pass fields with a saved payload.
func (c Client) Apply(p ClientPayload) Client {
	c.ClientName = p.ClientName
	c.Phone = p.Phone
	c.Email = p.Email
	c.Coach = p.Coach
	c.Date = p.Date
	c.Age = p.Age
	c.Page2Data = p.Page2Data
	c.Appointments = p.Appointments
	c.Evaluation = p.Evaluation
	if p.AssignedCoachID != "" {
		c.AssignedCoachID = p.AssignedCoachID
	}
	return c
}

// ClientFromFields builds a Client from a stored document. Every field is
// optional; malformed values take their zero value.
func ClientFromFields(id string, fields map[string]any) Client {
	return Client{
		ID:              id,
		ClientName:      textValue(fields[FieldClientName]),
		Phone:           textValue(fields[FieldPhone]),
		Email:           textValue(fields[FieldEmail]),
		Coach:           textValue(fields[FieldCoach]),
		Date:            textValue(fields[FieldDate]),
		Age:             textValue(fields[FieldAge]),
		Page2Data:       NormalizePage2Data(fields[FieldPage2Data]),
		Appointments:    NormalizeAppointments(fields[FieldAppointments]),
		Evaluation:      NormalizeEvaluation(fields[FieldEvaluation]),
		DeletedAt:       timeValue(fields[FieldDeletedAt]),
		SyncStatus:      textValue(fields[FieldSyncStatus]),
		AssignedCoachID: textValue(fields[FieldAssignedCoachID]),
		CreatedAt:       timeValue(fields[FieldCreatedAt]),
		UpdatedAt:       timeValue(fields[FieldUpdatedAt]),
	}
}

// timeValue accepts the encodings a timestamp may take in a document:
// a time.Time, an RFC 3339 string or milliseconds since the epoch.
func timeValue(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return &parsed
	case float64:
		ms := time.UnixMilli(int64(t)).UTC()
		return &ms
	case int64:
		ms := time.UnixMilli(t).UTC()
		return &ms
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// Save Payload
// =============================================================================

// ClientPayload is the set of fields written when a pass is saved.
type ClientPayload struct {
	ClientName      string                        `json:"clientName"`
	Phone           string                        `json:"phone"`
	Email           string                        `json:"email"`
	Coach           string                        `json:"coach"`
	Date            string                        `json:"date"`
	Age             string                        `json:"age"`
	Page2Data       Page2Data                     `json:"page2Data"`
	Appointments    [AppointmentCount]Appointment `json:"appointments"`
	Evaluation      Evaluation                    `json:"evaluation"`
	AssignedCoachID string                        `json:"assignedCoachId,omitempty"`
}

// PayloadFromForm builds the save payload for a form.
func PayloadFromForm(f FormState) ClientPayload {
	return ClientPayload{
		ClientName:   f.Page2Data.Name,
		Phone:        f.Phone,
		Email:        f.Email,
		Coach:        f.Page2Data.Coach,
		Date:         f.Page2Data.Date,
		Age:          f.Page2Data.Age,
		Page2Data:    f.Page2Data,
		Appointments: f.Appointments,
		Evaluation:   f.Evaluation,
	}
}

// Fields returns the payload as document fields.
func (p ClientPayload) Fields() map[string]any {
	fields := map[string]any{
		FieldClientName:   p.ClientName,
		FieldPhone:        p.Phone,
		FieldEmail:        p.Email,
		FieldCoach:        p.Coach,
		FieldDate:         p.Date,
		FieldAge:          p.Age,
		FieldPage2Data:    p.Page2Data,
		FieldAppointments: p.Appointments,
		FieldEvaluation:   p.Evaluation,
	}
	if p.AssignedCoachID != "" {
		fields[FieldAssignedCoachID] = p.AssignedCoachID
	}
	return fields
}
