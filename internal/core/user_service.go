package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserService provides user lookup, creation and per-location role
// grants. Password hashing happens in the auth package; this layer only
// stores and returns the hash.
type UserService interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, userID int64) (*User, error)
	Create(ctx context.Context, businessID int64, email, displayName, passwordHash string) (*User, error)
	SetPasswordHash(ctx context.Context, userID int64, passwordHash string) error
	Deactivate(ctx context.Context, userID int64) error
	ListByBusiness(ctx context.Context, businessID int64) ([]User, error)
	GrantRole(ctx context.Context, userID, locationID int64, role Role) error
	RevokeRole(ctx context.Context, userID, locationID int64) error
	RolesFor(ctx context.Context, userID int64) (map[int64]Role, error)
	UsersAtLocation(ctx context.Context, locationID int64) ([]User, error)
}

type userService struct {
	pool *pgxpool.Pool
}

// NewUserService constructs a UserService backed by PostgreSQL.
func NewUserService(pool *pgxpool.Pool) UserService {
	return &userService{pool: pool}
}

const userColumns = "id, business_id, email, display_name, password_hash, is_active, created_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.BusinessID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userService) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1) AND is_active = TRUE",
		strings.TrimSpace(email))
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewDomainError(CodeNotFound, "user %q not found", email)
		}
		return nil, fmt.Errorf("failed to fetch user %q: %w", email, err)
	}
	return u, nil
}

func (s *userService) GetByID(ctx context.Context, userID int64) (*User, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("user", userID)
		}
		return nil, fmt.Errorf("failed to fetch user %d: %w", userID, err)
	}
	return u, nil
}

func (s *userService) Create(ctx context.Context, businessID int64, email, displayName, passwordHash string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrValidation("invalid email %q", email)
	}
	if displayName == "" {
		return nil, ErrValidation("display name is required")
	}
	if passwordHash == "" {
		return nil, ErrValidation("password hash is required")
	}

	u := &User{BusinessID: businessID, Email: email, DisplayName: displayName, PasswordHash: passwordHash, IsActive: true}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (business_id, email, display_name, password_hash, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, created_at
	`, u.BusinessID, u.Email, u.DisplayName, u.PasswordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "email %q is already registered", email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *userService) SetPasswordHash(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("user", userID)
	}
	return nil
}

// Deactivate disables login and revokes the user's refresh tokens. Role
// grants stay so an accidental deactivation can be reversed cleanly.
func (s *userService) Deactivate(ctx context.Context, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "UPDATE users SET is_active = FALSE WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("user", userID)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *userService) ListByBusiness(ctx context.Context, businessID int64) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE business_id = $1 ORDER BY display_name", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GrantRole assigns role at one location, replacing any existing grant
// there. The user and the location must belong to the same business.
func (s *userService) GrantRole(ctx context.Context, userID, locationID int64, role Role) error {
	if !ValidRole(role) {
		return ErrValidation("unknown role %q", role)
	}

	var sameBusiness bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users u
			JOIN locations l ON l.business_id = u.business_id
			WHERE u.id = $1 AND l.id = $2
		)`, userID, locationID).Scan(&sameBusiness)
	if err != nil {
		return fmt.Errorf("failed to validate grant: %w", err)
	}
	if !sameBusiness {
		return ErrValidation("user %d and location %d belong to different businesses", userID, locationID)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_locations (user_id, location_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, location_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, locationID, role)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

func (s *userService) RevokeRole(ctx context.Context, userID, locationID int64) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM user_locations WHERE user_id = $1 AND location_id = $2", userID, locationID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("role grant at location", locationID)
	}
	return nil
}

// RolesFor returns the user's role per location id, the shape the auth
// layer bakes into access tokens.
func (s *userService) RolesFor(ctx context.Context, userID int64) (map[int64]Role, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT location_id, role FROM user_locations WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[int64]Role)
	for rows.Next() {
		var locationID int64
		var role Role
		if err := rows.Scan(&locationID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles[locationID] = role
	}
	return roles, rows.Err()
}

func (s *userService) UsersAtLocation(ctx context.Context, locationID int64) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id IN (SELECT user_id FROM user_locations WHERE location_id = $1)
		ORDER BY display_name
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list location users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
