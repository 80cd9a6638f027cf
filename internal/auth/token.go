package auth

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"barstock/internal/core"
)

// UserPayload is the identity baked into every access token. Handlers
// and the application facade authorize against it without touching the
// database.
type UserPayload struct {
	UserID        int64               `json:"user_id"`
	BusinessID    int64               `json:"business_id"`
	EffectiveRole core.Role           `json:"effective_role"`
	Roles         map[int64]core.Role `json:"roles"`
	LocationIDs   []int64             `json:"location_ids"`
}

// RoleAt returns the caller's role at the given location, or "" when
// the caller holds no role there.
func (p *UserPayload) RoleAt(locationID int64) core.Role {
	return p.Roles[locationID]
}

// HasLocation reports whether the caller holds any role at locationID.
func (p *UserPayload) HasLocation(locationID int64) bool {
	_, ok := p.Roles[locationID]
	return ok
}

// accessClaims is the JWT payload struct used for signing and parsing.
type accessClaims struct {
	UserID        int64               `json:"user_id"`
	BusinessID    int64               `json:"business_id"`
	EffectiveRole string              `json:"role"`
	Roles         map[int64]core.Role `json:"roles,omitempty"`
	LocationIDs   []int64             `json:"location_ids,omitempty"`
	jwt.RegisteredClaims
}

// MintAccess signs a short-lived access token carrying the payload.
func (s *Service) MintAccess(payload UserPayload) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)
	claims := &accessClaims{
		UserID:        payload.UserID,
		BusinessID:    payload.BusinessID,
		EffectiveRole: string(payload.EffectiveRole),
		Roles:         payload.Roles,
		LocationIDs:   payload.LocationIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccess validates a raw access token and returns its payload.
// Any failure, including expiry, surfaces as ERR_UNAUTHENTICATED.
func (s *Service) ParseAccess(raw string) (*UserPayload, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, core.NewDomainError(core.CodeUnauthenticated, "invalid or expired token")
	}

	return &UserPayload{
		UserID:        claims.UserID,
		BusinessID:    claims.BusinessID,
		EffectiveRole: core.Role(claims.EffectiveRole),
		Roles:         claims.Roles,
		LocationIDs:   claims.LocationIDs,
	}, nil
}

// buildPayload assembles the token payload from the user's role grants.
// Effective role is the highest held at any location; a user with no
// grants is effectively staff with no location scope.
func buildPayload(user *core.User, roles map[int64]core.Role) UserPayload {
	effective := core.RoleStaff
	locationIDs := make([]int64, 0, len(roles))
	for locID, role := range roles {
		effective = core.MaxRole(effective, role)
		locationIDs = append(locationIDs, locID)
	}
	sort.Slice(locationIDs, func(i, j int) bool { return locationIDs[i] < locationIDs[j] })

	return UserPayload{
		UserID:        user.ID,
		BusinessID:    user.BusinessID,
		EffectiveRole: effective,
		Roles:         roles,
		LocationIDs:   locationIDs,
	}
}
