package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"brokerdesk/internal/notification/models"
	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/platform/sentinel"
)

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, recipient_id, type, title, message, link, read, created_at, read_at`

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, link, read, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(n.ID), uuid.UUID(n.RecipientID), string(n.Type), n.Title, n.Message, n.Link,
		n.Read, n.CreatedAt, n.ReadAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, nid id.NotificationID) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, uuid.UUID(nid))
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipient id.UserID, limit int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, uuid.UUID(recipient), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) CountUnread(ctx context.Context, recipient id.UserID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT read
	`, uuid.UUID(recipient)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// SetRead flips the read state in one statement. The CTE captures the prior
// state so changed can be reported without a second round trip.
func (s *PostgresStore) SetRead(ctx context.Context, nid id.NotificationID, read bool, now time.Time) (*models.Notification, bool, error) {
	var readAt any
	if read {
		readAt = now
	}
	row := s.db.QueryRowContext(ctx, `
		WITH prior AS (
			SELECT id, read FROM notifications WHERE id = $1 FOR UPDATE
		)
		UPDATE notifications n
		SET read = $2,
		    read_at = CASE WHEN $2 THEN COALESCE(n.read_at, $3::timestamptz) ELSE NULL END
		FROM prior
		WHERE n.id = prior.id
		RETURNING n.id, n.recipient_id, n.type, n.title, n.message, n.link, n.read, n.created_at, n.read_at,
		          prior.read <> $2
	`, uuid.UUID(nid), read, readAt)

	var changed bool
	n, err := scanNotification(row, &changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, sentinel.ErrNotFound
		}
		return nil, false, fmt.Errorf("set notification read: %w", err)
	}
	return n, changed, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, recipient id.UserID, now time.Time) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE notifications
		SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT read
		RETURNING `+notificationColumns,
		uuid.UUID(recipient), now)
	if err != nil {
		return nil, fmt.Errorf("mark all notifications read: %w", err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, nid id.NotificationID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, uuid.UUID(nid))
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete notification rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAllRead(ctx context.Context, recipient id.UserID) ([]id.NotificationID, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM notifications WHERE recipient_id = $1 AND read RETURNING id
	`, uuid.UUID(recipient))
	if err != nil {
		return nil, fmt.Errorf("delete read notifications: %w", err)
	}
	defer rows.Close()

	removed := make([]id.NotificationID, 0)
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan deleted notification id: %w", err)
		}
		removed = append(removed, id.NotificationID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted notifications: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]*models.Notification, error) {
	defer rows.Close()
	out := make([]*models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func scanNotification(row rowScanner, extra ...any) (*models.Notification, error) {
	var (
		n              models.Notification
		nid, recipient uuid.UUID
		kind           string
		readAt         sql.NullTime
	)
	dest := []any{&nid, &recipient, &kind, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt, &readAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	n.ID = id.NotificationID(nid)
	n.RecipientID = id.UserID(recipient)
	n.Type = models.Type(kind)
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}
