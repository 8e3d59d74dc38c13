package facade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hunterclarke/cosmos/lib/model"
)

// fakeRemote is a minimal in-memory Remote good enough to drive a facade
// end to end, mirroring lib/actions' and lib/syncengine's fakes.
type fakeRemote struct {
	ids      []string
	cursor   uint64
	messages map[string]model.RawMessage
	modified []modifyCall
}

type modifyCall struct {
	id          string
	add, remove []model.LabelID
}

func (f *fakeRemote) ListMessageIDs(ctx context.Context, account model.AccountID, pageToken string) ([]string, string, uint64, error) {
	if pageToken != "" {
		return nil, "", f.cursor, nil
	}
	return f.ids, "", f.cursor, nil
}

func (f *fakeRemote) GetMessageFull(ctx context.Context, account model.AccountID, remoteID string) (model.RawMessage, error) {
	raw, ok := f.messages[remoteID]
	if !ok {
		return model.RawMessage{}, model.ErrNotFound
	}
	return raw, nil
}

func (f *fakeRemote) ListHistory(ctx context.Context, account model.AccountID, sinceCursor uint64, pageToken string) ([]model.HistoryEvent, string, uint64, error) {
	return nil, "", sinceCursor, nil
}

func (f *fakeRemote) ListLabels(ctx context.Context, account model.AccountID) ([]model.Label, error) {
	return nil, nil
}

func (f *fakeRemote) ModifyLabels(ctx context.Context, account model.AccountID, id string, add, remove []model.LabelID) error {
	f.modified = append(f.modified, modifyCall{id: id, add: add, remove: remove})
	return nil
}

func newTestFacade(t *testing.T, rem *fakeRemote) *Facade {
	t.Helper()
	ctx := context.Background()
	paths := DefaultPaths(t.TempDir())
	f, err := New(ctx, paths, rem)
	if err != nil {
		t.Fatalf("New() error %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFacadeRegisterListAccounts(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, &fakeRemote{messages: map[string]model.RawMessage{}})

	acct, err := f.RegisterAccount(ctx, "alice@example.com", "Alice", "#ff0000")
	if err != nil {
		t.Fatalf("RegisterAccount() error %v", err)
	}
	if acct.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", acct.Email)
	}

	if _, err := f.RegisterAccount(ctx, "alice@example.com", "Alice", "#ff0000"); err != model.ErrAlreadyExists {
		t.Errorf("duplicate RegisterAccount() error = %v, want ErrAlreadyExists", err)
	}

	accts, err := f.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts() error %v", err)
	}
	if len(accts) != 1 {
		t.Fatalf("len(ListAccounts()) = %d, want 1", len(accts))
	}
}

func TestFacadeSyncListSearchAndArchive(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{
		ids:    []string{"m1", "m2"},
		cursor: 42,
		messages: map[string]model.RawMessage{
			"m1": {
				RemoteID: "m1", ThreadRemoteID: "t1",
				Labels:     []model.LabelID{model.LabelInbox, model.LabelUnread},
				From:       model.EmailAddress{Name: "Alice", Email: "alice@example.com"},
				Subject:    "Hello there",
				ReceivedAt: 1000, InternalDate: 1000,
				BodyText: "welcome to the mailbox",
			},
			"m2": {
				RemoteID: "m2", ThreadRemoteID: "t2",
				Labels:     []model.LabelID{model.LabelInbox},
				From:       model.EmailAddress{Name: "Bob", Email: "bob@example.com"},
				Subject:    "Second thread",
				ReceivedAt: 2000, InternalDate: 2000,
				BodyText: "unrelated content",
			},
		},
	}
	f := newTestFacade(t, rem)

	acct, err := f.RegisterAccount(ctx, "alice@example.com", "Alice", "#ff0000")
	if err != nil {
		t.Fatalf("RegisterAccount() error %v", err)
	}

	stats, err := f.SyncAccount(ctx, acct.ID, nil)
	if err != nil {
		t.Fatalf("SyncAccount() error %v", err)
	}
	if stats.MessagesCreated != 2 {
		t.Errorf("MessagesCreated = %d, want 2", stats.MessagesCreated)
	}

	threads, err := f.ListThreads(ctx, &acct.ID, nil, 100, 0)
	if err != nil {
		t.Fatalf("ListThreads() error %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("len(ListThreads()) = %d, want 2", len(threads))
	}

	unread, err := f.CountUnread(ctx, model.LabelInbox, &acct.ID)
	if err != nil {
		t.Fatalf("CountUnread() error %v", err)
	}
	if unread != 1 {
		t.Errorf("CountUnread(INBOX) = %d, want 1", unread)
	}

	results, err := f.Search(ctx, &acct.ID, "welcome", 10)
	if err != nil {
		t.Fatalf("Search() error %v", err)
	}
	if len(results) != 1 || results[0].ID != "t1" {
		t.Fatalf("Search(welcome) = %+v, want one hit on thread t1", results)
	}

	if err := f.ArchiveThread(ctx, acct.ID, "t1"); err != nil {
		t.Fatalf("ArchiveThread() error %v", err)
	}
	inboxCount, err := f.CountThreads(ctx, &acct.ID, labelPtr(model.LabelInbox))
	if err != nil {
		t.Fatalf("CountThreads() error %v", err)
	}
	if inboxCount != 1 {
		t.Errorf("CountThreads(INBOX) after archive = %d, want 1", inboxCount)
	}
	if len(rem.modified) != 1 || rem.modified[0].id != "t1" {
		t.Fatalf("remote ModifyLabels calls = %+v, want one call for t1", rem.modified)
	}

	rebuilt, err := f.RebuildSearchIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildSearchIndex() error %v", err)
	}
	if rebuilt != 2 {
		t.Errorf("RebuildSearchIndex() = %d, want 2", rebuilt)
	}
	results, err = f.Search(ctx, &acct.ID, "welcome", 10)
	if err != nil {
		t.Fatalf("Search() after rebuild error %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Search(welcome) after rebuild = %+v, want one hit", results)
	}
}

func labelPtr(l model.LabelID) *model.LabelID { return &l }
