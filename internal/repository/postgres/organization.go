package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
)

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(base BaseRepository) repository.OrganizationRepository {
	return &organizationRepository{base}
}

func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	query := `
		SELECT id, name, paid_seats, billing_override_seats, billing_override_expires_at,
			created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	var org model.Organization
	err := notFound(r.GetDB().GetContext(ctx, &org, query, id))
	r.observe("organization_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// GetSeatUsage counts active members and outstanding invitations. Expired
// invitations no longer hold a seat.
func (r *organizationRepository) GetSeatUsage(ctx context.Context, id uuid.UUID) (*model.SeatUsage, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM organization_members
				WHERE organization_id = $1 AND status = 'active') AS active_members,
			(SELECT COUNT(*) FROM invitations
				WHERE organization_id = $1 AND status = 'pending'
					AND (expires_at IS NULL OR expires_at > NOW())) AS pending_invitations
	`
	var usage model.SeatUsage
	err := r.GetDB().GetContext(ctx, &usage, query, id)
	r.observe("organization_seat_usage", err)
	if err != nil {
		return nil, fmt.Errorf("failed to count seat usage: %w", err)
	}
	return &usage, nil
}
