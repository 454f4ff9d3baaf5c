package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bloodwall/internal/domain/member"
)

// Custom errors
var ErrMemberNotFound = fmt.Errorf("team member not found")
var ErrCompanyNotFound = fmt.Errorf("company not found")

type PostgresMemberRepository struct {
	db *sql.DB
}

func NewPostgresMemberRepository(db *sql.DB) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

func (r *PostgresMemberRepository) GetByEmail(ctx context.Context, email string) (*member.TeamMember, error) {
	query := `SELECT id, company_id, name, email, is_active, created_at, updated_at
               FROM team_members WHERE lower(email) = lower($1)
               ORDER BY created_at LIMIT 1`
	m := &member.TeamMember{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(&m.ID, &m.CompanyID, &m.Name, &m.Email, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error getting team member by email: %w", err)
	}
	return m, nil
}

func (r *PostgresMemberRepository) ListReachable(ctx context.Context, companyID string) ([]*member.TeamMember, error) {
	query := `SELECT id, company_id, name, email, is_active, created_at, updated_at
               FROM team_members
               WHERE is_active = TRUE AND email IS NOT NULL AND email <> ''
                 AND ($1::text = '' OR company_id = $1)
               ORDER BY name, email`

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("error listing reachable team members: %w", err)
	}
	defer rows.Close()

	members := make([]*member.TeamMember, 0)
	for rows.Next() {
		m := &member.TeamMember{}
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.Name, &m.Email, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning team member: %w", err)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team members: %w", err)
	}
	return members, nil
}

func (r *PostgresMemberRepository) GetCompany(ctx context.Context, id string) (*member.Company, error) {
	c := &member.Company{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM companies WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("error getting company: %w", err)
	}
	return c, nil
}
