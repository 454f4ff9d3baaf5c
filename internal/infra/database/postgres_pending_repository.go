package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bloodwall/internal/domain/notification"
)

const (
	pendingActionHorizon = 7 * 24 * time.Hour
	staleMetricAge       = 7 * 24 * time.Hour
)

// PostgresPendingRepository answers "what should this person update before MAM" and
// "which actions are due soon" from the UDE tables.
type PostgresPendingRepository struct {
	db *sql.DB
}

func NewPostgresPendingRepository(db *sql.DB) *PostgresPendingRepository {
	return &PostgresPendingRepository{db: db}
}

// PendingFor returns open actions owned by email that are overdue or due within seven days,
// followed by metrics on the owner's UDEs not updated for seven days.
func (r *PostgresPendingRepository) PendingFor(ctx context.Context, email string, now time.Time) ([]notification.PendingItem, error) {
	items := make([]notification.PendingItem, 0)

	actionQuery := `SELECT a.text, a.due_date
               FROM actions a
               JOIN team_members m ON m.id = a.owner_id
               WHERE lower(m.email) = lower($1)
                 AND a.status <> 'DONE'
                 AND a.due_date IS NOT NULL
                 AND a.due_date <= $2
               ORDER BY a.due_date`
	rows, err := r.db.QueryContext(ctx, actionQuery, email, now.Add(pendingActionHorizon))
	if err != nil {
		return nil, fmt.Errorf("error listing pending actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var title string
		var due sql.NullTime
		if err := rows.Scan(&title, &due); err != nil {
			return nil, fmt.Errorf("error scanning pending action: %w", err)
		}
		item := notification.PendingItem{Title: title}
		if due.Valid {
			d := due.Time
			item.Due = &d
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending actions: %w", err)
	}

	metricQuery := `SELECT mt.name
               FROM metrics mt
               JOIN udes u ON u.id = mt.ude_id
               JOIN team_members m ON m.id = u.owner_id
               WHERE lower(m.email) = lower($1)
                 AND mt.updated_at < $2
               ORDER BY mt.updated_at`
	metricRows, err := r.db.QueryContext(ctx, metricQuery, email, now.Add(-staleMetricAge))
	if err != nil {
		return nil, fmt.Errorf("error listing stale metrics: %w", err)
	}
	defer metricRows.Close()
	for metricRows.Next() {
		var name string
		if err := metricRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning stale metric: %w", err)
		}
		items = append(items, notification.PendingItem{Title: name})
	}
	if err := metricRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale metrics: %w", err)
	}

	return items, nil
}

// DueActions returns not-started or in-progress actions due on or before until, newest first.
func (r *PostgresPendingRepository) DueActions(ctx context.Context, until time.Time, limit int) ([]notification.DigestItem, error) {
	query := `SELECT COALESCE(m.name, ''), a.text, a.due_date
               FROM actions a
               LEFT JOIN team_members m ON m.id = a.owner_id
               WHERE a.status IN ('IN_PROGRESS', 'NOT_STARTED')
                 AND a.due_date IS NOT NULL
                 AND a.due_date <= $1
               ORDER BY a.created_at DESC
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, until, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing due actions: %w", err)
	}
	defer rows.Close()

	items := make([]notification.DigestItem, 0)
	for rows.Next() {
		var item notification.DigestItem
		var due sql.NullTime
		if err := rows.Scan(&item.OwnerName, &item.Text, &due); err != nil {
			return nil, fmt.Errorf("error scanning due action: %w", err)
		}
		if due.Valid {
			d := due.Time
			item.Due = &d
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due actions: %w", err)
	}
	return items, nil
}
