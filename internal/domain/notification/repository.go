// internal/domain/notification/repository.go
package notification

import (
	"context"
	"time"
)

// ClaimStore persists notification claims. Uniqueness of (job, recipient, dayKey) must be
// enforced by the backing store, not by callers.
type ClaimStore interface {
	// InsertIfAbsent creates the claim. A uniqueness conflict is reported as Conflict, never as an error.
	InsertIfAbsent(ctx context.Context, claim *Claim) (InsertResult, error)
	// Finalize records the message id of a successful send.
	Finalize(ctx context.Context, claim *Claim, messageID string) error
	// Delete removes the claim so the day's send can be retried.
	Delete(ctx context.Context, claim *Claim) error
	// DeletePending removes the claim only while it has no message id, checked atomically with
	// the delete. A finalized claim yields ErrClaimNotPending.
	DeletePending(ctx context.Context, claim *Claim) error
	Get(ctx context.Context, job JobName, recipient, dayKey string) (*Claim, error)
	ListByDay(ctx context.Context, dayKey string) ([]*Claim, error)
}

// PendingItem is a single line in a personal reminder.
type PendingItem struct {
	Title string     `json:"title"`
	Due   *time.Time `json:"due,omitempty"`
}

// DigestItem is a single action line in the nightly digest.
type DigestItem struct {
	OwnerName string
	Text      string
	Due       *time.Time
}

// PendingSource returns the open items a recipient should update before MAM.
type PendingSource interface {
	PendingFor(ctx context.Context, email string, now time.Time) ([]PendingItem, error)
}

// DigestSource returns open actions due on or before until.
type DigestSource interface {
	DueActions(ctx context.Context, until time.Time, limit int) ([]DigestItem, error)
}
