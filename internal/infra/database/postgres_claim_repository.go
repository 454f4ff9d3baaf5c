package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bloodwall/internal/domain/notification"

	"github.com/lib/pq"
)

const (
	claimUniqueConstraint = "cron_mail_sends_job_recipient_day_key"
	pqUniqueViolation     = pq.ErrorCode("23505")
)

// PostgresClaimRepository stores send claims in cron_mail_sends.
type PostgresClaimRepository struct {
	db *sql.DB
}

func NewPostgresClaimRepository(db *sql.DB) *PostgresClaimRepository {
	return &PostgresClaimRepository{db: db}
}

// InsertIfAbsent inserts the claim row. The unique constraint on (job, recipient, day_key) decides
// the winner between concurrent callers; the loser gets Conflict.
func (r *PostgresClaimRepository) InsertIfAbsent(ctx context.Context, c *notification.Claim) (notification.InsertResult, error) {
	query := `INSERT INTO cron_mail_sends (id, job, recipient, day_key)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT ON CONSTRAINT ` + claimUniqueConstraint + ` DO NOTHING
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, c.ID, c.Job, c.Recipient, c.DayKey).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.Conflict, nil
		}
		if isClaimUniqueViolation(err) {
			return notification.Conflict, nil
		}
		return 0, fmt.Errorf("error inserting notification claim: %w", err)
	}
	return notification.Inserted, nil
}

func (r *PostgresClaimRepository) Finalize(ctx context.Context, c *notification.Claim, messageID string) error {
	query := `UPDATE cron_mail_sends
               SET message_id = $1, updated_at = NOW()
               WHERE id = $2
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, messageID, c.ID).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrClaimNotFound
		}
		return fmt.Errorf("error finalizing notification claim: %w", err)
	}
	c.MessageID = sql.NullString{String: messageID, Valid: true}
	return nil
}

func (r *PostgresClaimRepository) Delete(ctx context.Context, c *notification.Claim) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cron_mail_sends WHERE id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("error deleting notification claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deleted claim count: %w", err)
	}
	if n == 0 {
		return notification.ErrClaimNotFound
	}
	return nil
}

func (r *PostgresClaimRepository) DeletePending(ctx context.Context, c *notification.Claim) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cron_mail_sends WHERE id = $1 AND message_id IS NULL`, c.ID)
	if err != nil {
		return fmt.Errorf("error deleting pending notification claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deleted claim count: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing deleted: tell a finalized claim apart from a missing one.
	var finalized bool
	err = r.db.QueryRowContext(ctx, `SELECT message_id IS NOT NULL FROM cron_mail_sends WHERE id = $1`, c.ID).Scan(&finalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrClaimNotFound
		}
		return fmt.Errorf("error checking notification claim: %w", err)
	}
	if finalized {
		return notification.ErrClaimNotPending
	}
	return notification.ErrClaimNotFound
}

func (r *PostgresClaimRepository) Get(ctx context.Context, job notification.JobName, recipient, dayKey string) (*notification.Claim, error) {
	query := `SELECT id, job, recipient, day_key, message_id, created_at, updated_at
               FROM cron_mail_sends
               WHERE job = $1 AND recipient = $2 AND day_key = $3`
	c := &notification.Claim{}
	err := r.db.QueryRowContext(ctx, query, job, recipient, dayKey).Scan(
		&c.ID, &c.Job, &c.Recipient, &c.DayKey, &c.MessageID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrClaimNotFound
		}
		return nil, fmt.Errorf("error getting notification claim: %w", err)
	}
	return c, nil
}

func (r *PostgresClaimRepository) ListByDay(ctx context.Context, dayKey string) ([]*notification.Claim, error) {
	query := `SELECT id, job, recipient, day_key, message_id, created_at, updated_at
               FROM cron_mail_sends
               WHERE day_key = $1
               ORDER BY job, recipient`
	rows, err := r.db.QueryContext(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("error listing notification claims: %w", err)
	}
	defer rows.Close()

	claims := make([]*notification.Claim, 0)
	for rows.Next() {
		c := &notification.Claim{}
		if err := rows.Scan(&c.ID, &c.Job, &c.Recipient, &c.DayKey, &c.MessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification claims: %w", err)
	}
	return claims, nil
}

func isClaimUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation && pqErr.Constraint == claimUniqueConstraint
}
