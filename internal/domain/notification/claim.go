// internal/domain/notification/claim.go
package notification

import (
	"database/sql"
	"errors"
	"time"
)

// Claim asserts that a job has been (or is being) handled for a recipient on a given day.
// Corresponds to the 'cron_mail_sends' table; (Job, Recipient, DayKey) is unique.
type Claim struct {
	ID        string
	Job       JobName
	Recipient string // normalized
	DayKey    string // UTC YYYY-MM-DD
	MessageID sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the claim was inserted but never finalized with a message id.
func (c *Claim) Pending() bool {
	return !c.MessageID.Valid
}

// ErrClaimNotFound is returned by claim stores when no claim matches.
var ErrClaimNotFound = errors.New("notification claim not found")

// ErrClaimNotPending is returned when a claim already carries a message id.
var ErrClaimNotPending = errors.New("claim was already finalized and cannot be released")
