package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hunterclarke/cosmos/lib/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() error %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func upsert(t *testing.T, db *DB, m model.Message) bool {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()
	created, err := tx.UpsertMessage(ctx, m)
	if err != nil {
		t.Fatalf("UpsertMessage() error %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}
	return created
}

func TestUpsertMessageRecomputesThread(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	upsert(t, db, model.Message{
		ID: "m1", ThreadID: "t1", AccountID: 1, Subject: "first",
		From:       model.EmailAddress{Name: "Alice", Email: "alice@example.com"},
		ReceivedAt: time.UnixMilli(1000),
		Labels:     map[model.LabelID]struct{}{model.LabelInbox: {}},
	})
	upsert(t, db, model.Message{
		ID: "m2", ThreadID: "t1", AccountID: 1, Subject: "second",
		From:       model.EmailAddress{Name: "Bob", Email: "bob@example.com"},
		ReceivedAt: time.UnixMilli(2000),
		Labels:     map[model.LabelID]struct{}{model.LabelInbox: {}, model.LabelUnread: {}},
	})

	acct := model.AccountID(1)
	threads, err := db.ListThreads(ctx, &acct, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListThreads() error %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("ListThreads() = %d threads, want 1", len(threads))
	}
	th := threads[0]
	if th.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", th.MessageCount)
	}
	if th.SenderName != "Bob" {
		t.Errorf("SenderName (newest message) = %q, want Bob", th.SenderName)
	}
	if !th.IsUnread {
		t.Errorf("IsUnread = false, want true (m2 carries UNREAD)")
	}
}

func TestUpsertMessageIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := model.Message{
		ID: "m1", ThreadID: "t1", AccountID: 1, Subject: "hi",
		ReceivedAt: time.UnixMilli(1000),
		Labels:     map[model.LabelID]struct{}{model.LabelInbox: {}},
	}
	if created := upsert(t, db, m); !created {
		t.Fatalf("first UpsertMessage(): created = false, want true")
	}
	if created := upsert(t, db, m); created {
		t.Fatalf("second UpsertMessage(): created = true, want false")
	}

	n, err := db.CountMessages(context.Background())
	if err != nil {
		t.Fatalf("CountMessages() error %v", err)
	}
	if n != 1 {
		t.Errorf("CountMessages() = %d, want 1", n)
	}
}

func TestDeleteMessageRemovesEmptyThread(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	upsert(t, db, model.Message{
		ID: "m1", ThreadID: "t1", AccountID: 1, Subject: "only message",
		ReceivedAt: time.UnixMilli(1000),
	})

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()
	if err := tx.DeleteMessage(ctx, 1, "m1", "t1"); err != nil {
		t.Fatalf("DeleteMessage() error %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}

	if _, err := db.GetThreadDetail(ctx, "t1"); err != model.ErrNotFound {
		t.Errorf("GetThreadDetail() after deleting last message: err = %v, want model.ErrNotFound", err)
	}
}

func TestTxMessagesForThreadMatchesRecipientsAndLabels(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	upsert(t, db, model.Message{
		ID: "m1", ThreadID: "t1", AccountID: 1, Subject: "hello",
		To:         []model.EmailAddress{{Name: "Carol", Email: "carol@example.com"}},
		ReceivedAt: time.UnixMilli(1000),
		Labels:     map[model.LabelID]struct{}{model.LabelInbox: {}, model.LabelStarred: {}},
	})

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()

	msgs, err := tx.MessagesForThread(ctx, 1, "t1")
	if err != nil {
		t.Fatalf("Tx.MessagesForThread() error %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("MessagesForThread() = %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if diff := cmp.Diff([]model.EmailAddress{{Name: "Carol", Email: "carol@example.com"}}, got.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	want := map[model.LabelID]struct{}{model.LabelInbox: {}, model.LabelStarred: {}}
	if diff := cmp.Diff(want, got.Labels, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	labels, err := tx.MessageLabels(ctx, 1, "m1")
	if err != nil {
		t.Fatalf("Tx.MessageLabels() error %v", err)
	}
	if diff := cmp.Diff(want, labels, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Tx.MessageLabels() mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceMessageLabels(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	upsert(t, db, model.Message{
		ID: "m1", ThreadID: "t1", AccountID: 1, Subject: "hello",
		ReceivedAt: time.UnixMilli(1000),
		Labels:     map[model.LabelID]struct{}{model.LabelInbox: {}},
	})

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()
	newLabels := map[model.LabelID]struct{}{model.LabelTrash: {}}
	if err := tx.ReplaceMessageLabels(ctx, 1, "m1", newLabels); err != nil {
		t.Fatalf("ReplaceMessageLabels() error %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}

	got, err := db.MessageLabels(ctx, 1, "m1")
	if err != nil {
		t.Fatalf("MessageLabels() error %v", err)
	}
	if diff := cmp.Diff(newLabels, got); diff != "" {
		t.Errorf("labels after replace mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingQueueLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := tx.EnqueuePending(ctx, 1, id, time.UnixMilli(int64(1000+i))); err != nil {
			t.Fatalf("EnqueuePending(%q) error %v", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}

	depth, err := db.PendingDepth(ctx, 1)
	if err != nil {
		t.Fatalf("PendingDepth() error %v", err)
	}
	if depth != 3 {
		t.Fatalf("PendingDepth() = %d, want 3", depth)
	}

	tx, err = db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()
	batch, err := tx.DequeueBatch(ctx, 1, 2)
	if err != nil {
		t.Fatalf("DequeueBatch() error %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("DequeueBatch(limit=2) = %d entries, want 2", len(batch))
	}
	if batch[0].RemoteID != "r1" || batch[1].RemoteID != "r2" {
		t.Errorf("DequeueBatch() order = %+v, want FIFO r1, r2", batch)
	}
	if err := tx.DeletePending(ctx, 1, "r1"); err != nil {
		t.Fatalf("DeletePending() error %v", err)
	}
	if _, err := tx.MarkAttemptFailed(ctx, 1, "r2", 1, time.UnixMilli(2000)); err != nil {
		t.Fatalf("MarkAttemptFailed() error %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}

	depth, err = db.PendingDepth(ctx, 1)
	if err != nil {
		t.Fatalf("PendingDepth() error %v", err)
	}
	if depth != 1 {
		t.Fatalf("PendingDepth() after dequeue/fail = %d, want 1 (only r3 remains pending)", depth)
	}
}
