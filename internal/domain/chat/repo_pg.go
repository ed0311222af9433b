package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{db: pool} }

const msgCols = `id, sender_id, recipient_id, content, attachment_url, attachment_kind, read, created_at, updated_at`

// pairClause matches both directions of a conversation using the pair index.
const pairClause = `LEAST(sender_id, recipient_id) = LEAST($1::uuid, $2::uuid)
		AND GREATEST(sender_id, recipient_id) = GREATEST($1::uuid, $2::uuid)`

func scanMessage(row pgx.Row, extra ...any) (*Message, error) {
	var m Message
	var url, kind *string
	dest := append([]any{&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &url, &kind, &m.Read, &m.CreatedAt, &m.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if url != nil {
		m.Attachment = &Attachment{URL: *url}
		if kind != nil {
			m.Attachment.MediaKind = *kind
		}
	}
	return &m, nil
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	var url, kind *string
	if m.Attachment != nil {
		url, kind = &m.Attachment.URL, &m.Attachment.MediaKind
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages (id, sender_id, recipient_id, content, attachment_url, attachment_kind, read, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, url, kind, m.Read, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (r *repoPG) ListConversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	rows, err := r.db.Query(ctx, `SELECT `+msgCols+`, COUNT(*) OVER() FROM chat_messages
		WHERE `+pairClause+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		a, b, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	var total int
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list conversation: %w", err)
	}

	if len(items) == 0 && offset > 0 {
		if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE `+pairClause, a, b).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count conversation: %w", err)
		}
	}
	return items, total, nil
}

func (r *repoPG) MarkRead(ctx context.Context, readerID uuid.UUID, ids []uuid.UUID, at time.Time) ([]*Message, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE chat_messages SET read = TRUE, updated_at = $3
		WHERE id = ANY($2) AND recipient_id = $1 AND NOT read
		RETURNING `+msgCols,
		readerID, ids, at)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *repoPG) CountUnreadFrom(ctx context.Context, readerID, senderID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages
		WHERE recipient_id = $1 AND sender_id = $2 AND NOT read`,
		readerID, senderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}
