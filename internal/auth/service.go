package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"barstock/internal/core"
)

// ErrRateLimited is returned by Login when the caller's IP has exceeded
// the login throttle. The web layer maps it to HTTP 429.
var ErrRateLimited = errors.New("too many login attempts")

// Session is the result of a successful login or refresh.
type Session struct {
	User            *core.User  `json:"user"`
	Payload         UserPayload `json:"-"`
	AccessToken     string      `json:"access_token"`
	AccessExpiresAt time.Time   `json:"access_expires_at"`
	RefreshToken    string      `json:"refresh_token"`
}

// Service owns credential verification and token issuance. Refresh
// tokens are opaque UUIDs stored sha256-hashed and single-use: each
// refresh consumes the presented token and issues a replacement.
type Service struct {
	pool       *pgxpool.Pool
	users      core.UserService
	limiter    *LoginLimiter
	log        *zap.Logger
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(pool *pgxpool.Pool, users core.UserService, secret string, accessTTL, refreshTTL time.Duration, limiter *LoginLimiter, log *zap.Logger) *Service {
	return &Service{
		pool:       pool,
		users:      users,
		limiter:    limiter,
		log:        log,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Login verifies credentials and issues a token pair. Unknown emails,
// deactivated users and wrong passwords all return the same
// ERR_UNAUTHENTICATED so callers cannot probe for accounts. Failed
// attempts are recorded for the login-failure alert.
func (s *Service) Login(ctx context.Context, email, password, remoteIP string) (*Session, error) {
	if s.limiter != nil && !s.limiter.Allow(remoteIP) {
		return nil, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if de, ok := core.AsDomainError(err); ok && de.Code == core.CodeNotFound {
			s.recordFailure(ctx, email, remoteIP)
			return nil, invalidCredentials()
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		s.recordFailure(ctx, email, remoteIP)
		return nil, invalidCredentials()
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", zap.Int64("user_id", user.ID), zap.Int64("business_id", user.BusinessID))
	return session, nil
}

// Refresh rotates a refresh token: the presented token is consumed and
// a new pair is issued. A reused, expired or unknown token returns
// ERR_UNAUTHENTICATED.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	hash := hashToken(refreshToken)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	var expiresAt time.Time
	err = tx.QueryRow(ctx,
		"SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE",
		hash,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewDomainError(core.CodeUnauthenticated, "invalid refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM refresh_tokens WHERE token_hash = $1", hash); err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	if time.Now().After(expiresAt) {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, core.NewDomainError(core.CodeUnauthenticated, "refresh token expired")
	}

	newToken := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		userID, hashToken(newToken), time.Now().Add(s.refreshTTL),
	); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, core.NewDomainError(core.CodeUnauthenticated, "invalid refresh token")
	}
	if !user.IsActive {
		return nil, core.NewDomainError(core.CodeUnauthenticated, "user is deactivated")
	}

	roles, err := s.users.RolesFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	payload := buildPayload(user, roles)
	access, accessExp, err := s.MintAccess(payload)
	if err != nil {
		return nil, err
	}
	return &Session{
		User:            user,
		Payload:         payload,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    newToken,
	}, nil
}

// Logout revokes a refresh token. Revoking a token that is already gone
// is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM refresh_tokens WHERE token_hash = $1", hashToken(refreshToken))
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// issueSession builds the payload from current role grants and mints a
// fresh token pair.
func (s *Service) issueSession(ctx context.Context, user *core.User) (*Session, error) {
	roles, err := s.users.RolesFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	payload := buildPayload(user, roles)

	access, accessExp, err := s.MintAccess(payload)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		user.ID, hashToken(refresh), time.Now().Add(s.refreshTTL),
	); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &Session{
		User:            user,
		Payload:         payload,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    refresh,
	}, nil
}

// recordFailure writes a login-failure row. Best effort: the alert
// evaluator reads these, but a failed insert must not mask the
// authentication result.
func (s *Service) recordFailure(ctx context.Context, email, remoteIP string) {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO login_failures (email, remote_ip) VALUES ($1, $2)",
		email, remoteIP)
	if err != nil {
		s.log.Warn("failed to record login failure", zap.Error(err))
	}
}

func invalidCredentials() error {
	return core.NewDomainError(core.CodeUnauthenticated, "invalid email or password")
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
