package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientFromFields(t *testing.T) {
	deleted := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	fields := map[string]any{
		FieldClientName:      "Ana Lima",
		FieldPhone:           "555-0100",
		FieldPage2Data:       map[string]any{"name": "Ana Lima", "age": "34"},
		FieldAppointments:    []any{map[string]any{"weight": "70"}},
		FieldEvaluation:      map[string]any{"bodyFat": "healthy"},
		FieldAssignedCoachID: "coach-1",
		FieldDeletedAt:       deleted.Format(time.RFC3339Nano),
		FieldUpdatedAt:       float64(deleted.UnixMilli()),
	}

	c := ClientFromFields("doc-1", fields)

	assert.Equal(t, "doc-1", c.ID)
	assert.Equal(t, "Ana Lima", c.ClientName)
	assert.Equal(t, "34", c.Page2Data.Age)
	assert.Equal(t, "70", c.Appointments[0].Weight)
	assert.True(t, c.Appointments[1].IsBlank())
	assert.Equal(t, "healthy", c.Evaluation.BodyFat)
	assert.Equal(t, "coach-1", c.AssignedCoachID)
	if assert.NotNil(t, c.DeletedAt) {
		assert.True(t, deleted.Equal(*c.DeletedAt))
	}
	if assert.NotNil(t, c.UpdatedAt) {
		assert.True(t, deleted.Equal(*c.UpdatedAt))
	}
	assert.True(t, c.IsDeleted())
}

func TestClient_IsDeleted(t *testing.T) {
	now := time.Now()
	assert.False(t, Client{}.IsDeleted())
	assert.True(t, Client{DeletedAt: &now}.IsDeleted())
	assert.True(t, Client{SyncStatus: SyncStatusDeleted}.IsDeleted())
}

func TestClient_FormStatePrefersTopLevelFields(t *testing.T) {
	c := Client{
		ID:         "doc-9",
		ClientName: "Bea",
		Coach:      "",
		Age:        "41",
		Phone:      "555-0111",
		Page2Data:  Page2Data{Name: "Old", Coach: "Coach Jamie", Date: "01-May-2025"},
	}

	f := c.FormState()

	assert.Equal(t, "doc-9", f.ClientID)
	assert.Equal(t, "Bea", f.Page2Data.Name)
	assert.Equal(t, "Coach Jamie", f.Page2Data.Coach)
	assert.Equal(t, "01-May-2025", f.Page2Data.Date)
	assert.Equal(t, "41", f.Page2Data.Age)
	assert.Equal(t, "555-0111", f.Phone)
}

func TestPayloadFromForm(t *testing.T) {
	var f FormState
	f.Page2Data = Page2Data{Name: "Cy", Coach: "Coach Lee", Date: "02-June-2025", Age: "29"}
	f.Phone = "555-0123"
	f.Appointments[0].Weight = "90"

	p := PayloadFromForm(f)
	assert.Equal(t, "Cy", p.ClientName)
	assert.Equal(t, "Coach Lee", p.Coach)
	assert.Equal(t, "02-June-2025", p.Date)
	assert.Equal(t, "29", p.Age)
	assert.Equal(t, "90", p.Appointments[0].Weight)

	fields := p.Fields()
	assert.NotContains(t, fields, FieldAssignedCoachID)

	p.AssignedCoachID = "coach-7"
	assert.Equal(t, "coach-7", p.Fields()[FieldAssignedCoachID])
}

func TestSession_CanManage(t *testing.T) {
	admin := Session{Role: RoleAdmin}
	coach := Session{Role: RoleCoach, CoachID: "c1"}
	own := Client{AssignedCoachID: "c1"}
	other := Client{AssignedCoachID: "c2"}

	assert.True(t, admin.CanManage(other))
	assert.True(t, coach.CanManage(own))
	assert.False(t, coach.CanManage(other))
	assert.False(t, Session{Role: RoleCoach}.Valid())
	assert.Equal(t, "c1", coach.AssignedCoachID("fallback"))
	assert.Equal(t, "fallback", admin.AssignedCoachID("fallback"))
}

func TestPendingDeletes_LastActionWins(t *testing.T) {
	now := time.Now()
	items := []QueueItem{
		NewDeleteItem("a", now),
		NewDeleteItem("b", now),
		NewUndeleteItem("a", now),
		NewSaveItem("c", ClientPayload{}, now),
		NewSaveItem("", ClientPayload{}, now),
	}

	assert.Equal(t, map[string]bool{"b": true}, PendingDeletes(items))
}

func TestNewSaveItem(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	create := NewSaveItem("", ClientPayload{ClientName: "Dee"}, now)
	assert.Equal(t, ActionCreate, create.Action)
	assert.True(t, create.IsCreate())
	assert.Equal(t, SyncStatusPending, create.SyncStatus)
	assert.Equal(t, int64(1700000000000), create.Timestamp)

	update := NewSaveItem("doc-1", ClientPayload{}, now)
	assert.Equal(t, ActionUpdate, update.Action)
	assert.False(t, update.IsCreate())
	assert.False(t, NewDeleteItem("doc-1", now).IsCreate())
}
