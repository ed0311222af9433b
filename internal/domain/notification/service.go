// Package notification stores per-user alerts and pushes each new one to the
// recipient's open channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/directory"
	"github.com/ehr/notify/internal/platform/metrics"
	"github.com/ehr/notify/internal/platform/websocket"
	"github.com/ehr/notify/pkg/pagination"
)

const (
	DefaultWindow   = 24 * time.Hour
	DefaultPageSize = 10
)

// Pusher delivers a typed event to every open channel of a user.
type Pusher interface {
	Push(userID uuid.UUID, p websocket.Payload) int
}

type Service struct {
	repo      Repository
	users     directory.UserResolver
	pusher    Pusher
	templates *TemplateEngine
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	window    time.Duration
	pageSize  int
}

type Option func(*Service)

// WithClock overrides the time source used for timestamps and the window.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithWindow sets how far back List and UnreadCount look.
func WithWindow(d time.Duration) Option { return func(s *Service) { s.window = d } }

func WithPageSize(n int) Option { return func(s *Service) { s.pageSize = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "notification").Logger() }
}

func NewService(repo Repository, users directory.UserResolver, pusher Pusher, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		users:     users,
		pusher:    pusher,
		templates: NewTemplateEngine(),
		logger:    zerolog.Nop(),
		now:       time.Now,
		window:    DefaultWindow,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	return s
}

// PageSize is the number of notifications on one list page.
func (s *Service) PageSize() int { return s.pageSize }

// Templates exposes the engine so callers can register their own templates.
func (s *Service) Templates() *TemplateEngine { return s.templates }

// Create validates and stores a notification, then pushes it to the
// recipient. The row is persisted before any delivery is attempted.
func (s *Service) Create(ctx context.Context, recipientID uuid.UUID, message string, kind Kind) (*Notification, error) {
	message = strings.TrimSpace(message)
	if recipientID == uuid.Nil {
		return nil, apperr.Validation("recipientId is required")
	}
	if message == "" {
		return nil, apperr.Validation("message is required")
	}
	if kind == "" {
		kind = KindInfo
	}
	if !kind.Valid() {
		return nil, apperr.Validation("invalid notification type: %s", kind)
	}

	u, err := s.users.ResolveUser(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if !u.Exists {
		return nil, apperr.ErrRecipientNotFound
	}

	n := &Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Message:     message,
		Kind:        kind,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	s.metrics.NotificationCreated(string(kind))
	s.logger.Debug().
		Str("notification_id", n.ID.String()).
		Str("recipient_id", recipientID.String()).
		Str("kind", string(kind)).
		Msg("notification stored")

	s.pusher.Push(recipientID, NewNotification{n})
	return n, nil
}

// CreateFromTemplate renders templateID with data and creates the result.
func (s *Service) CreateFromTemplate(ctx context.Context, recipientID uuid.UUID, templateID string, data map[string]string) (*Notification, error) {
	kind, message, err := s.templates.Render(templateID, data)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	return s.Create(ctx, recipientID, message, kind)
}

// List returns one page of the user's recent view: non-deleted rows created
// within the window, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page int) (*Page, error) {
	p := pagination.New(page, s.pageSize)
	items, total, err := s.repo.ListRecent(ctx, userID, s.since(), p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return &Page{Items: items, Meta: pagination.NewMeta(total, p)}, nil
}

// UnreadCount counts unread rows in the recent view.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID, s.since())
}

// MarkRead marks one of userID's notifications read. Repeating the call is a
// no-op.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

// MarkAllRead marks every unread, non-deleted notification of the user read,
// regardless of age, and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// DeleteAll soft-deletes every notification of the user regardless of read
// state or age and tells the user's channels to clear their lists.
func (s *Service) DeleteAll(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repo.SoftDeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pusher.Push(userID, websocket.NotificationsDeleted{})
	return count, nil
}

func (s *Service) since() time.Time {
	return s.now().UTC().Add(-s.window)
}
