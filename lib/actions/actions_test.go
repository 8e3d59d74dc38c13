package actions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/searchindex"
	"github.com/hunterclarke/cosmos/lib/storage"
)

// fakeRemote records ModifyLabels calls and can be told to fail the next
// one, simulating a remote error that should trigger reconciliation.
type fakeRemote struct {
	calls    []modifyCall
	failNext bool
}

type modifyCall struct {
	id          string
	add, remove []model.LabelID
}

func (f *fakeRemote) ListMessageIDs(ctx context.Context, account model.AccountID, pageToken string) ([]string, string, uint64, error) {
	return nil, "", 0, nil
}
func (f *fakeRemote) GetMessageFull(ctx context.Context, account model.AccountID, remoteID string) (model.RawMessage, error) {
	return model.RawMessage{}, nil
}
func (f *fakeRemote) ListHistory(ctx context.Context, account model.AccountID, sinceCursor uint64, pageToken string) ([]model.HistoryEvent, string, uint64, error) {
	return nil, "", sinceCursor, nil
}
func (f *fakeRemote) ListLabels(ctx context.Context, account model.AccountID) ([]model.Label, error) {
	return nil, nil
}
func (f *fakeRemote) ModifyLabels(ctx context.Context, account model.AccountID, id string, add, remove []model.LabelID) error {
	f.calls = append(f.calls, modifyCall{id: id, add: add, remove: remove})
	if f.failNext {
		f.failNext = false
		return model.ErrNetwork
	}
	return nil
}

func setup(t *testing.T) (*Actions, *storage.DB, *searchindex.Index, *fakeRemote) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("storage.Open() error %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ix, err := searchindex.Open(ctx, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("searchindex.Open() error %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	blobs, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.Open() error %v", err)
	}
	rem := &fakeRemote{}
	return New(db, blobs, ix, rem), db, ix, rem
}

func seedMessage(t *testing.T, db *storage.DB, account model.AccountID, id, threadID string, labels map[model.LabelID]struct{}) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error %v", err)
	}
	defer tx.Rollback()
	m := model.Message{
		ID:         id,
		ThreadID:   threadID,
		AccountID:  account,
		Subject:    "test",
		ReceivedAt: time.UnixMilli(1000),
		Labels:     labels,
	}
	if _, err := tx.UpsertMessage(ctx, m); err != nil {
		t.Fatalf("UpsertMessage() error %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error %v", err)
	}
}

func labelsOf(t *testing.T, db *storage.DB, account model.AccountID, id string) map[model.LabelID]struct{} {
	t.Helper()
	labels, err := db.MessageLabels(context.Background(), account, id)
	if err != nil {
		t.Fatalf("MessageLabels() error %v", err)
	}
	return labels
}

func TestArchiveRemovesInbox(t *testing.T) {
	a, db, _, rem := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{model.LabelInbox: {}, model.LabelUnread: {}})

	if err := a.Archive(ctx, 1, "t1"); err != nil {
		t.Fatalf("Archive() error %v", err)
	}
	got := labelsOf(t, db, 1, "m1")
	if _, ok := got[model.LabelInbox]; ok {
		t.Errorf("Archive(): INBOX still present: %v", got)
	}
	if len(rem.calls) != 1 || rem.calls[0].remove[0] != model.LabelInbox {
		t.Errorf("ModifyLabels call = %+v, want one call removing INBOX", rem.calls)
	}
}

func TestArchiveNoopWhenAlreadyArchived(t *testing.T) {
	a, db, _, rem := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{model.LabelUnread: {}})

	if err := a.Archive(ctx, 1, "t1"); err != nil {
		t.Fatalf("Archive() error %v", err)
	}
	if len(rem.calls) != 0 {
		t.Errorf("expected no remote call for an already-empty delta, got %+v", rem.calls)
	}
}

func TestTrashAddsTrashRemovesInbox(t *testing.T) {
	a, db, _, _ := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{model.LabelInbox: {}})

	if err := a.Trash(ctx, 1, "t1"); err != nil {
		t.Fatalf("Trash() error %v", err)
	}
	got := labelsOf(t, db, 1, "m1")
	want := map[model.LabelID]struct{}{model.LabelTrash: {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labels after Trash() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetReadTogglesUnread(t *testing.T) {
	a, db, _, _ := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{model.LabelUnread: {}})

	if err := a.SetRead(ctx, 1, "t1", true); err != nil {
		t.Fatalf("SetRead(true) error %v", err)
	}
	if _, ok := labelsOf(t, db, 1, "m1")[model.LabelUnread]; ok {
		t.Fatalf("SetRead(true): UNREAD still present")
	}

	if err := a.SetRead(ctx, 1, "t1", false); err != nil {
		t.Fatalf("SetRead(false) error %v", err)
	}
	if _, ok := labelsOf(t, db, 1, "m1")[model.LabelUnread]; !ok {
		t.Fatalf("SetRead(false): UNREAD not added")
	}
}

func TestToggleStarFlipsAndReportsNewState(t *testing.T) {
	a, db, _, _ := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{})

	starred, err := a.ToggleStar(ctx, 1, "t1")
	if err != nil {
		t.Fatalf("ToggleStar() error %v", err)
	}
	if !starred {
		t.Fatalf("ToggleStar() from unstarred = false, want true")
	}
	if _, ok := labelsOf(t, db, 1, "m1")[model.LabelStarred]; !ok {
		t.Fatalf("ToggleStar(): STARRED not added")
	}

	starred, err = a.ToggleStar(ctx, 1, "t1")
	if err != nil {
		t.Fatalf("ToggleStar() error %v", err)
	}
	if starred {
		t.Fatalf("ToggleStar() from starred = true, want false")
	}
}

func TestApplyLabelsPropagatesRemoteFailureAndReconciles(t *testing.T) {
	a, db, _, rem := setup(t)
	ctx := context.Background()
	seedMessage(t, db, 1, "m1", "t1", map[model.LabelID]struct{}{})
	rem.failNext = true

	err := a.ApplyLabels(ctx, 1, "t1", []model.LabelID{"PROJECT-X"}, nil)
	if err == nil {
		t.Fatal("ApplyLabels() with failing remote: want error, got nil")
	}
	got := labelsOf(t, db, 1, "m1")
	if _, ok := got["PROJECT-X"]; ok {
		t.Errorf("label not reconciled away after remote failure: %v", got)
	}
}

func TestArchiveUnknownThreadIsNotFound(t *testing.T) {
	a, _, _, _ := setup(t)
	if err := a.Archive(context.Background(), 1, "missing"); err == nil {
		t.Fatal("Archive() on unknown thread: want error, got nil")
	}
}
