package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// ListConversation returns messages exchanged between a and b in either
	// direction, newest first, and the total count.
	ListConversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead marks the unread messages among ids addressed to readerID and
	// returns the rows it changed.
	MarkRead(ctx context.Context, readerID uuid.UUID, ids []uuid.UUID, at time.Time) ([]*Message, error)
	CountUnreadFrom(ctx context.Context, readerID, senderID uuid.UUID) (int, error)
}
