package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bloodwall/internal/domain/notification"

	"github.com/google/uuid"
)

var ErrInvalidClaimKey = errors.New("job, recipient and day key are required")

// AcquireStatus is the outcome of a claim attempt.
type AcquireStatus int

const (
	Claimed AcquireStatus = iota + 1
	AlreadyClaimed
)

type AcquireResult struct {
	Status AcquireStatus
	Claim  *notification.Claim // set when Status is Claimed
	Reason string              // set when Status is AlreadyClaimed
}

// Acquirer turns the claim store's uniqueness guarantee into a per-day send lock.
type Acquirer struct {
	store notification.ClaimStore
	newID func() string
}

func NewAcquirer(store notification.ClaimStore) *Acquirer {
	return &Acquirer{store: store, newID: uuid.NewString}
}

// Acquire claims (job, recipient, dayKey). Losing to an existing claim is AlreadyClaimed, not an error.
func (a *Acquirer) Acquire(ctx context.Context, job notification.JobName, recipient, dayKey string) (AcquireResult, error) {
	recipient = notification.NormalizeRecipient(recipient)
	if strings.TrimSpace(string(job)) == "" || recipient == "" || dayKey == "" {
		return AcquireResult{}, ErrInvalidClaimKey
	}
	if _, err := notification.ParseDayKey(dayKey); err != nil {
		return AcquireResult{}, fmt.Errorf("%w: bad day key %q", ErrInvalidClaimKey, dayKey)
	}

	claim := &notification.Claim{
		ID:        a.newID(),
		Job:       job,
		Recipient: recipient,
		DayKey:    dayKey,
	}

	res, err := a.store.InsertIfAbsent(ctx, claim)
	if err != nil {
		return AcquireResult{}, err
	}

	switch res {
	case notification.Inserted:
		return AcquireResult{Status: Claimed, Claim: claim}, nil
	case notification.Conflict:
		return AcquireResult{Status: AlreadyClaimed, Reason: notification.SkipReasonAlreadySent}, nil
	default:
		return AcquireResult{}, fmt.Errorf("unexpected insert result %v", res)
	}
}
