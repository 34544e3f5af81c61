package domain

// Role identifies what a signed-in user may see and change.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleCoach Role = "coach"
)

// Session is the signed-in identity a request acts on behalf of.
type Session struct {
	Role      Role   `json:"role"`
	CoachID   string `json:"coachId,omitempty"`
	CoachName string `json:"coachName,omitempty"`
}

// IsAdmin returns true for administrator sessions.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Valid returns true if the session carries a usable role.
func (s Session) Valid() bool {
	switch s.Role {
	case RoleAdmin:
		return true
	case RoleCoach:
		return s.CoachID != ""
	default:
		return false
	}
}

// CanManage returns true if the session may modify the client.
// Admins manage every client; coaches only their assigned ones.
func (s Session) CanManage(c Client) bool {
	return s.IsAdmin() || c.AssignedCoachID == s.CoachID
}

// AssignedCoachID returns the coach a newly created client is assigned to.
func (s Session) AssignedCoachID(fallback string) string {
	if s.Role == RoleCoach && s.CoachID != "" {
		return s.CoachID
	}
	return fallback
}
