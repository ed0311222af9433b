package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListRecent returns the recipient's non-deleted rows created at or after
	// since, newest first, with the total matching count.
	ListRecent(ctx context.Context, recipientID uuid.UUID, since time.Time, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID, since time.Time) (int, error)
	// MarkRead sets read on the recipient's notification. Already-read rows
	// succeed unchanged. A missing id returns apperr.ErrNotFound.
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error)
	SoftDeleteAll(ctx context.Context, recipientID uuid.UUID) (int, error)
}
