package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AuditService records who changed what. Writes are best-effort from
// the facade: a failed audit insert is logged, never surfaced, because
// blocking a business operation on its own paper trail helps nobody.
type AuditService interface {
	Record(ctx context.Context, entry *AuditEntry)
	List(ctx context.Context, businessID int64, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows List. Zero values mean no bound.
type AuditFilter struct {
	ObjectType string
	ObjectID   string
	ActorID    int64
	Since      time.Time
	Limit      int
}

type auditService struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewAuditService(pool *pgxpool.Pool, log *zap.Logger) AuditService {
	return &auditService{pool: pool, log: log}
}

func (s *auditService) Record(ctx context.Context, entry *AuditEntry) {
	if entry.Before == nil {
		entry.Before = json.RawMessage("null")
	}
	if entry.After == nil {
		entry.After = json.RawMessage("null")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (business_id, actor_user_id, action, object_type, object_id, before, after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.BusinessID, entry.ActorUserID, entry.Action, entry.ObjectType, entry.ObjectID,
		entry.Before, entry.After)
	if err != nil {
		s.log.Error("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.String("object", entry.ObjectType+":"+entry.ObjectID),
			zap.Error(err))
	}
}

func (s *auditService) List(ctx context.Context, businessID int64, filter AuditFilter) ([]AuditEntry, error) {
	query := `
		SELECT id, business_id, actor_user_id, action, object_type, object_id, before, after, created_at
		FROM audit_log WHERE business_id = $1`
	args := []any{businessID}

	if filter.ObjectType != "" {
		args = append(args, filter.ObjectType)
		query += fmt.Sprintf(" AND object_type = $%d", len(args))
	}
	if filter.ObjectID != "" {
		args = append(args, filter.ObjectID)
		query += fmt.Sprintf(" AND object_id = $%d", len(args))
	}
	if filter.ActorID > 0 {
		args = append(args, filter.ActorID)
		query += fmt.Sprintf(" AND actor_user_id = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		err := rows.Scan(&e.ID, &e.BusinessID, &e.ActorUserID, &e.Action,
			&e.ObjectType, &e.ObjectID, &e.Before, &e.After, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
