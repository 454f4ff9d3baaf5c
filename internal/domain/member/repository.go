package member

import (
	"context"
)

// Repository defines read access to team members and companies.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (*TeamMember, error)
	// ListReachable returns active members with an email. An empty companyID means all companies.
	ListReachable(ctx context.Context, companyID string) ([]*TeamMember, error)
	GetCompany(ctx context.Context, id string) (*Company, error)
}
