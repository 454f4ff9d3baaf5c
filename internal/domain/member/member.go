package member

import (
	"database/sql"
	"time"
)

// TeamMember is a person in a company who owns UDEs, metrics and actions.
type TeamMember struct {
	ID        string
	CompanyID string
	Name      string
	Email     sql.NullString // members without an email never receive reminders
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Company groups team members; its name appears in MAM reminders.
type Company struct {
	ID   string
	Name string
}

// DisplayName falls back to "Teammate" when the member has no name.
func (m *TeamMember) DisplayName() string {
	if m.Name == "" {
		return "Teammate"
	}
	return m.Name
}
