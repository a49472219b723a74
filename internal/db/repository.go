package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

// Repository handles database operations for notifications
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts a new notification. The id and creation
// timestamp are assigned by the database and written back to notif.
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (
			recipient_id, recipient_role, notification_type, is_read, redirect_link
		) VALUES (
			$1, $2, $3, $4, $5
		)
		RETURNING notification_id, created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		notif.RecipientID,
		notif.RecipientRole,
		notif.Type,
		notif.IsRead,
		notif.RedirectLink,
	).Scan(&notif.ID, &notif.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.Int64("recipient_id", notif.RecipientID),
			zap.String("type", string(notif.Type)),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.Int64("notification_id", notif.ID),
		zap.Int64("recipient_id", notif.RecipientID),
		zap.String("type", string(notif.Type)),
	)

	return nil
}

// GetNotification retrieves a notification by id.
func (r *Repository) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	query := `
		SELECT notification_id, recipient_id, recipient_role, notification_type,
		       is_read, redirect_link, created_at
		FROM notifications
		WHERE notification_id = $1
	`

	var notif Notification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&notif.ID,
		&notif.RecipientID,
		&notif.RecipientRole,
		&notif.Type,
		&notif.IsRead,
		&notif.RedirectLink,
		&notif.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.Int64("notification_id", id),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return &notif, nil
}

// ListByRecipient retrieves every notification for a recipient in
// insertion order.
func (r *Repository) ListByRecipient(ctx context.Context, recipientID int64) ([]*Notification, error) {
	query := `
		SELECT notification_id, recipient_id, recipient_role, notification_type,
		       is_read, redirect_link, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY notification_id ASC
	`

	return r.queryList(ctx, query, recipientID)
}

// ListUnreadByRecipient retrieves unread notifications for a recipient in
// insertion order.
func (r *Repository) ListUnreadByRecipient(ctx context.Context, recipientID int64) ([]*Notification, error) {
	query := `
		SELECT notification_id, recipient_id, recipient_role, notification_type,
		       is_read, redirect_link, created_at
		FROM notifications
		WHERE recipient_id = $1 AND is_read = false
		ORDER BY notification_id ASC
	`

	return r.queryList(ctx, query, recipientID)
}

func (r *Repository) queryList(ctx context.Context, query string, recipientID int64) ([]*Notification, error) {
	rows, err := r.db.Pool().Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var notif Notification
		err := rows.Scan(
			&notif.ID,
			&notif.RecipientID,
			&notif.RecipientRole,
			&notif.Type,
			&notif.IsRead,
			&notif.RedirectLink,
			&notif.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// MarkRead sets the read flag on one notification. Marking an already-read
// notification succeeds; an unknown id returns ErrNotFound.
func (r *Repository) MarkRead(ctx context.Context, id int64) error {
	query := `UPDATE notifications SET is_read = true WHERE notification_id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.Int64("notification_id", id),
		)
		return fmt.Errorf("mark notification read: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkAllRead sets the read flag on every notification for a recipient.
// A recipient with zero notifications is a no-op, not an error.
func (r *Repository) MarkAllRead(ctx context.Context, recipientID int64) error {
	query := `UPDATE notifications SET is_read = true WHERE recipient_id = $1`

	result, err := r.db.Pool().Exec(ctx, query, recipientID)
	if err != nil {
		r.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.Int64("recipient_id", recipientID),
		)
		return fmt.Errorf("mark all notifications read: %w", err)
	}

	r.logger.Info("notifications marked read",
		zap.Int64("recipient_id", recipientID),
		zap.Int64("count", result.RowsAffected()),
	)

	return nil
}
