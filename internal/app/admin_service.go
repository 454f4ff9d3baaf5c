package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodwall/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for admin service
var ErrClaimNotPending = notification.ErrClaimNotPending
var ErrInvalidDayKey = errors.New("day must be formatted as YYYY-MM-DD")

// AdminService exposes operator views of the claim table.
type AdminService struct {
	claims notification.ClaimStore
	logger *logrus.Entry
	now    func() time.Time
}

func NewAdminService(store notification.ClaimStore, logger *logrus.Entry) *AdminService {
	return &AdminService{claims: store, logger: logger, now: time.Now}
}

// ListClaims returns the claims for dayKey, or for today when dayKey is empty.
func (s *AdminService) ListClaims(ctx context.Context, dayKey string) ([]*notification.Claim, error) {
	dayKey, err := s.resolveDay(dayKey)
	if err != nil {
		return nil, err
	}
	claims, err := s.claims.ListByDay(ctx, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims for %s: %w", dayKey, err)
	}
	return claims, nil
}

// ReleasePendingClaim deletes a claim that was inserted but never finalized, which is what a
// crash between claim and send leaves behind. Finalized claims are never released.
func (s *AdminService) ReleasePendingClaim(ctx context.Context, job notification.JobName, recipient, dayKey string) (*notification.Claim, error) {
	dayKey, err := s.resolveDay(dayKey)
	if err != nil {
		return nil, err
	}
	recipient = notification.NormalizeRecipient(recipient)

	claim, err := s.claims.Get(ctx, job, recipient, dayKey)
	if err != nil {
		if errors.Is(err, notification.ErrClaimNotFound) {
			return nil, notification.ErrClaimNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	if !claim.Pending() {
		return claim, ErrClaimNotPending
	}

	// A dispatch may finalize the claim after Get; the store re-checks pending under the delete.
	if err := s.claims.DeletePending(ctx, claim); err != nil {
		switch {
		case errors.Is(err, notification.ErrClaimNotFound):
			return nil, notification.ErrClaimNotFound
		case errors.Is(err, notification.ErrClaimNotPending):
			if fresh, gerr := s.claims.Get(ctx, job, recipient, dayKey); gerr == nil {
				claim = fresh
			}
			return claim, ErrClaimNotPending
		}
		return nil, fmt.Errorf("failed to delete claim: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job":       job,
		"recipient": recipient,
		"day_key":   dayKey,
		"claim_id":  claim.ID,
	}).Warn("Pending claim released by operator.")
	return claim, nil
}

func (s *AdminService) resolveDay(dayKey string) (string, error) {
	if dayKey == "" {
		return notification.DayKey(s.now()), nil
	}
	if _, err := notification.ParseDayKey(dayKey); err != nil {
		return "", ErrInvalidDayKey
	}
	return dayKey, nil
}
