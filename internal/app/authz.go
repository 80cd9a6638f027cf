package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"barstock/internal/auth"
	"barstock/internal/core"
)

// Every operation layers up to three checks: the caller's business must
// own the resource (platform_admin bypasses), the operation's minimum
// role must be met, and non-admins must hold their role at the
// resource's location. A tenant mismatch reads as not-found so callers
// cannot probe ids belonging to other businesses.

func errUnauthenticated() error {
	return core.NewDomainError(core.CodeUnauthenticated, "authentication required")
}

// roleCheck is the pure authorization ladder. locationID == 0 means the
// operation is business-scoped and only the effective role applies.
func roleCheck(p *auth.UserPayload, resourceBusiness, locationID int64, min core.Role) error {
	if p == nil {
		return errUnauthenticated()
	}
	if p.EffectiveRole == core.RolePlatformAdmin {
		return nil
	}
	if p.BusinessID != resourceBusiness {
		if locationID != 0 {
			return core.ErrNotFound("location", locationID)
		}
		return core.ErrNotFound("business", resourceBusiness)
	}
	if p.EffectiveRole == core.RoleBusinessAdmin {
		return nil
	}
	if locationID == 0 {
		if !core.RoleAtLeast(p.EffectiveRole, min) {
			return core.ErrForbidden("operation requires role %s or above", min)
		}
		return nil
	}

	role := p.RoleAt(locationID)
	if role == "" {
		return core.ErrForbidden("no role held at location %d", locationID)
	}
	if !core.RoleAtLeast(role, min) {
		return core.ErrForbidden("operation requires role %s or above at location %d", min, locationID)
	}
	return nil
}

// requireBusinessRole gates business-scoped operations.
func requireBusinessRole(p *auth.UserPayload, businessID int64, min core.Role) error {
	return roleCheck(p, businessID, 0, min)
}

// requireLocationRole resolves the location's owning business, then
// applies the ladder.
func (s *appService) requireLocationRole(ctx context.Context, p *auth.UserPayload, locationID int64, min core.Role) error {
	if p == nil {
		return errUnauthenticated()
	}
	if p.EffectiveRole == core.RolePlatformAdmin {
		return nil
	}
	businessID, err := s.locationBusiness(ctx, locationID)
	if err != nil {
		return err
	}
	return roleCheck(p, businessID, locationID, min)
}

func (s *appService) locationBusiness(ctx context.Context, locationID int64) (int64, error) {
	var businessID int64
	err := s.pool.QueryRow(ctx,
		"SELECT business_id FROM locations WHERE id = $1", locationID,
	).Scan(&businessID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, core.ErrNotFound("location", locationID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve location %d: %w", locationID, err)
	}
	return businessID, nil
}
