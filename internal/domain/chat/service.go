// Package chat carries one-to-one conversations between users: messages are
// stored, then delivered live together with typing indicators and read
// receipts through the shared delivery fan-out.
package chat

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/directory"
	"github.com/ehr/notify/internal/platform/metrics"
	"github.com/ehr/notify/internal/platform/websocket"
	"github.com/ehr/notify/pkg/pagination"
)

const (
	DefaultPageSize  = 20
	MaxContentLength = 4000
	MaxReadBatch     = 500
)

// Pusher delivers a typed event to every open channel of a user.
type Pusher interface {
	Push(userID uuid.UUID, p websocket.Payload) int
}

// Presence reports which users hold an open channel.
type Presence interface {
	OnlineUsers() []uuid.UUID
}

type Service struct {
	repo     Repository
	users    directory.UserResolver
	pusher   Pusher
	presence Presence
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	pageSize int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithPageSize(n int) Option { return func(s *Service) { s.pageSize = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "chat").Logger() }
}

func NewService(repo Repository, users directory.UserResolver, pusher Pusher, presence Presence, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		users:    users,
		pusher:   pusher,
		presence: presence,
		logger:   zerolog.Nop(),
		now:      time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	return s
}

// PageSize is the history page size used when the caller gives none.
func (s *Service) PageSize() int { return s.pageSize }

// Send validates and stores a message, then pushes it to the recipient and
// to the sender's other open channels, and clears the sender's typing
// indicator on the recipient's side.
func (s *Service) Send(ctx context.Context, senderID, recipientID uuid.UUID, content string, att *Attachment) (*Message, error) {
	if err := validatePair(senderID, recipientID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	att, err := normalizeAttachment(att)
	if err != nil {
		return nil, err
	}
	if content == "" && att == nil {
		return nil, apperr.Validation("content or attachment is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, apperr.Validation("content exceeds %d characters", MaxContentLength)
	}

	for _, id := range []uuid.UUID{senderID, recipientID} {
		u, err := s.users.ResolveUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		if !u.Exists {
			return nil, fmt.Errorf("%w: %s", apperr.ErrUserNotFound, id)
		}
	}

	now := s.now().UTC()
	m := &Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Attachment:  att,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.MessageSent()

	s.pusher.Push(recipientID, NewMessage{m})
	s.pusher.Push(recipientID, websocket.StoppedTyping{SenderID: senderID})
	s.pusher.Push(senderID, NewMessage{m})
	return m, nil
}

// Typing forwards a transient typing signal to the recipient's channels.
func (s *Service) Typing(_ context.Context, senderID, recipientID uuid.UUID) error {
	if err := validatePair(senderID, recipientID); err != nil {
		return err
	}
	s.pusher.Push(recipientID, websocket.Typing{SenderID: senderID})
	return nil
}

// StoppedTyping clears a previous typing signal on the recipient's channels.
func (s *Service) StoppedTyping(_ context.Context, senderID, recipientID uuid.UUID) error {
	if err := validatePair(senderID, recipientID); err != nil {
		return err
	}
	s.pusher.Push(recipientID, websocket.StoppedTyping{SenderID: senderID})
	return nil
}

// MarkConversationRead marks the listed messages addressed to readerID as
// read. Each sender receives the ids of their messages that changed, and the
// reader's channels receive the updated messages. Ids that are unknown,
// already read or addressed to someone else are ignored.
func (s *Service) MarkConversationRead(ctx context.Context, readerID uuid.UUID, ids []uuid.UUID) (int, error) {
	if readerID == uuid.Nil {
		return 0, apperr.ErrUnauthenticated
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > MaxReadBatch {
		return 0, apperr.Validation("at most %d ids per call", MaxReadBatch)
	}

	updated, err := s.repo.MarkRead(ctx, readerID, ids, s.now().UTC())
	if err != nil {
		return 0, err
	}

	bySender := make(map[uuid.UUID][]uuid.UUID)
	var senders []uuid.UUID
	for _, m := range updated {
		if _, ok := bySender[m.SenderID]; !ok {
			senders = append(senders, m.SenderID)
		}
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
		s.pusher.Push(readerID, MessageUpdated{m})
	}
	for _, sender := range senders {
		s.pusher.Push(sender, websocket.MessagesRead{IDs: bySender[sender]})
	}
	return len(updated), nil
}

// History returns one page of the conversation between a and b. Items are
// oldest first within the page; page 1 is the most recent.
func (s *Service) History(ctx context.Context, a, b uuid.UUID, page, pageSize int) (*HistoryPage, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return nil, apperr.Validation("both participants are required")
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	p := pagination.New(page, pageSize)
	items, total, err := s.repo.ListConversation(ctx, a, b, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Message{}
	}
	slices.Reverse(items)
	return &HistoryPage{Items: items, Meta: pagination.NewMeta(total, p)}, nil
}

// HistorySeq walks the conversation backward in time, one page per
// iteration, starting from the most recent. Iteration stops after the oldest
// page or on the first error. Each range over the sequence starts again from
// page 1.
func (s *Service) HistorySeq(ctx context.Context, a, b uuid.UUID, pageSize int) iter.Seq2[*HistoryPage, error] {
	return func(yield func(*HistoryPage, error) bool) {
		for page := 1; ; page++ {
			hp, err := s.History(ctx, a, b, page, pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(hp, nil) || !hp.HasMore {
				return
			}
		}
	}
}

// UnreadFrom counts messages from peer that readerID has not read.
func (s *Service) UnreadFrom(ctx context.Context, readerID, peerID uuid.UUID) (int, error) {
	return s.repo.CountUnreadFrom(ctx, readerID, peerID)
}

// Online returns the users currently holding an open channel.
func (s *Service) Online() []uuid.UUID {
	return s.presence.OnlineUsers()
}

func validatePair(senderID, recipientID uuid.UUID) error {
	if senderID == uuid.Nil {
		return apperr.ErrUnauthenticated
	}
	if recipientID == uuid.Nil {
		return apperr.Validation("recipientId is required")
	}
	if senderID == recipientID {
		return apperr.Validation("cannot message yourself")
	}
	return nil
}

func normalizeAttachment(att *Attachment) (*Attachment, error) {
	if att == nil {
		return nil, nil
	}
	out := &Attachment{URL: strings.TrimSpace(att.URL), MediaKind: strings.ToLower(strings.TrimSpace(att.MediaKind))}
	if out.URL == "" && out.MediaKind == "" {
		return nil, nil
	}
	if out.URL == "" {
		return nil, apperr.Validation("attachment url is required")
	}
	if out.MediaKind == "" {
		out.MediaKind = MediaFile
	}
	if !validMedia[out.MediaKind] {
		return nil, apperr.Validation("invalid attachment media type: %s", out.MediaKind)
	}
	return out, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
