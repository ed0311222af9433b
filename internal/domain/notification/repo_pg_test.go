package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/db/dbtest"
)

var pgBase = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newRepoPG(t *testing.T) Repository {
	t.Helper()
	return NewRepoPG(dbtest.New(t))
}

func insertNotification(t *testing.T, repo Repository, recipient uuid.UUID, at time.Time, msg string) *Notification {
	t.Helper()
	n := &Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Message:     msg,
		Kind:        KindInfo,
		CreatedAt:   at,
	}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("create %q: %v", msg, err)
	}
	return n
}

func messages(items []*Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Message
	}
	return out
}

func TestRepoPG_ListRecentWindowAndOrder(t *testing.T) {
	repo := newRepoPG(t)
	ctx := context.Background()
	me, other := uuid.New(), uuid.New()
	since := pgBase.Add(-7 * 24 * time.Hour)

	insertNotification(t, repo, me, since.Add(-time.Second), "too old")
	insertNotification(t, repo, me, since, "on the edge")
	insertNotification(t, repo, me, pgBase.Add(-3*time.Hour), "three hours")
	insertNotification(t, repo, me, pgBase.Add(-time.Hour), "one hour")
	insertNotification(t, repo, me, pgBase, "now")
	insertNotification(t, repo, other, pgBase, "someone else")

	items, total, err := repo.ListRecent(ctx, me, since, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 {
		t.Errorf("expected total 4, got %d", total)
	}
	if got := messages(items); len(got) != 2 || got[0] != "now" || got[1] != "one hour" {
		t.Errorf("unexpected first page %v", got)
	}

	items, total, err = repo.ListRecent(ctx, me, since, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if got := messages(items); len(got) != 2 || got[0] != "three hours" || got[1] != "on the edge" {
		t.Errorf("unexpected second page %v", got)
	}
	if total != 4 {
		t.Errorf("expected total 4 on page 2, got %d", total)
	}

	items, total, err = repo.ListRecent(ctx, me, since, 2, 100)
	if err != nil {
		t.Fatalf("list past the end: %v", err)
	}
	if len(items) != 0 || total != 4 {
		t.Errorf("expected empty page with total 4, got %d items total %d", len(items), total)
	}
}

func TestRepoPG_ListRecentSameInstantIsStable(t *testing.T) {
	repo := newRepoPG(t)
	ctx := context.Background()
	me := uuid.New()
	for i := 0; i < 5; i++ {
		insertNotification(t, repo, me, pgBase, "tied")
	}

	first, _, err := repo.ListRecent(ctx, me, pgBase, 3, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, _, err := repo.ListRecent(ctx, me, pgBase, 3, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[uuid.UUID]bool)
	for _, n := range append(first, second...) {
		if seen[n.ID] {
			t.Errorf("notification %s returned on both pages", n.ID)
		}
		seen[n.ID] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct rows across pages, got %d", len(seen))
	}
}

func TestRepoPG_MarkAllReadAndSoftDeleteAllCounts(t *testing.T) {
	repo := newRepoPG(t)
	ctx := context.Background()
	me, other := uuid.New(), uuid.New()
	for i := 0; i < 3; i++ {
		insertNotification(t, repo, me, pgBase.Add(time.Duration(i)*time.Minute), "unread")
	}
	read := insertNotification(t, repo, me, pgBase, "read")
	if _, err := repo.MarkRead(ctx, me, read.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	insertNotification(t, repo, other, pgBase, "someone else")

	n, err := repo.MarkAllRead(ctx, me)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows marked, got %d", n)
	}
	if n, _ := repo.MarkAllRead(ctx, me); n != 0 {
		t.Errorf("expected second mark-all to touch 0 rows, got %d", n)
	}
	if c, _ := repo.CountUnread(ctx, other, pgBase.Add(-time.Hour)); c != 1 {
		t.Errorf("other recipient should keep 1 unread, got %d", c)
	}

	n, err = repo.SoftDeleteAll(ctx, me)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows deleted, got %d", n)
	}
	if n, _ := repo.SoftDeleteAll(ctx, me); n != 0 {
		t.Errorf("expected second delete-all to touch 0 rows, got %d", n)
	}

	items, total, err := repo.ListRecent(ctx, me, pgBase.Add(-time.Hour), 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 || total != 0 {
		t.Errorf("deleted rows must not be listed, got %d items total %d", len(items), total)
	}
	kept, err := repo.GetByID(ctx, read.ID)
	if err != nil {
		t.Fatalf("deleted row should be retained: %v", err)
	}
	if !kept.Deleted || !kept.Read {
		t.Errorf("expected retained row read and deleted, got %+v", kept)
	}
}

func TestRepoPG_MarkReadScopedToRecipient(t *testing.T) {
	repo := newRepoPG(t)
	ctx := context.Background()
	me, other := uuid.New(), uuid.New()
	n := insertNotification(t, repo, me, pgBase, "mine")

	if _, err := repo.MarkRead(ctx, other, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another recipient, got %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := repo.MarkRead(ctx, me, n.ID)
		if err != nil {
			t.Fatalf("mark read #%d: %v", i+1, err)
		}
		if !got.Read {
			t.Errorf("expected read after mark #%d", i+1)
		}
	}
	if _, err := repo.MarkRead(ctx, me, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown id, got %v", err)
	}
}
