package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationService delivers in-app notifications. Alerting and the
// session expirer write through it; the web layer reads.
type NotificationService interface {
	Notify(ctx context.Context, userID int64, title, body string, linkURL *string) (*Notification, error)
	NotifyRole(ctx context.Context, businessID int64, role Role, title, body string, linkURL *string) error
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

type notificationService struct {
	pool *pgxpool.Pool
}

func NewNotificationService(pool *pgxpool.Pool) NotificationService {
	return &notificationService{pool: pool}
}

func (s *notificationService) Notify(ctx context.Context, userID int64, title, body string, linkURL *string) (*Notification, error) {
	n := &Notification{UserID: userID, Title: title, Body: body, LinkURL: linkURL}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, body, link_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.UserID, n.Title, n.Body, n.LinkURL).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return n, nil
}

// NotifyRole fans one message out to every user holding role at any
// location of the business. Users covering several locations still get
// a single copy.
func (s *notificationService) NotifyRole(ctx context.Context, businessID int64, role Role, title, body string, linkURL *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, title, body, link_url)
		SELECT DISTINCT ul.user_id, $3, $4, $5
		FROM user_locations ul
		JOIN locations l ON l.id = ul.location_id
		WHERE l.business_id = $1 AND ul.role = $2
	`, businessID, role, title, body, linkURL)
	if err != nil {
		return fmt.Errorf("failed to notify %s users: %w", role, err)
	}
	return nil
}

func (s *notificationService) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, user_id, title, body, link_url, is_read, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.LinkURL, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2",
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("notification", notificationID)
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
