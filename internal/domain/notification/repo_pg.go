package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/notify/internal/platform/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{db: pool} }

const notifCols = `id, recipient_id, message, kind, created_at, read, deleted`

func notifDest(n *Notification) []any {
	return []any{&n.ID, &n.RecipientID, &n.Message, &n.Kind, &n.CreatedAt, &n.Read, &n.Deleted}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(notifDest(&n)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("notification")
	}
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, message, kind, created_at, read, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.RecipientID, n.Message, n.Kind, n.CreatedAt, n.Read, n.Deleted)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.db.QueryRow(ctx, `SELECT `+notifCols+` FROM notifications WHERE id = $1`, id))
}

// ListRecent reads one page and the size of the whole view in a single
// statement so the two always agree.
func (r *repoPG) ListRecent(ctx context.Context, recipientID uuid.UUID, since time.Time, limit, offset int) ([]*Notification, int, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notifCols+`, COUNT(*) OVER() FROM notifications
		WHERE recipient_id = $1 AND NOT deleted AND created_at >= $2
		ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		recipientID, since, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var total int
	items := make([]*Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(append(notifDest(&n), &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	// A page past the end carries no window row to read the total from.
	if len(items) == 0 && offset > 0 {
		if err := r.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM notifications
			WHERE recipient_id = $1 AND NOT deleted AND created_at >= $2`,
			recipientID, since).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count notifications: %w", err)
		}
	}
	return items, total, nil
}

func (r *repoPG) CountUnread(ctx context.Context, recipientID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND NOT deleted AND NOT read AND created_at >= $2`,
		recipientID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (r *repoPG) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.db.QueryRow(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notifCols, id, recipientID))
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE recipient_id = $1 AND NOT read AND NOT deleted`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) SoftDeleteAll(ctx context.Context, recipientID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET deleted = TRUE
		WHERE recipient_id = $1 AND NOT deleted`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
