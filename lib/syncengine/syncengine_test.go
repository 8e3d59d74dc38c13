package syncengine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/searchindex"
	"github.com/hunterclarke/cosmos/lib/storage"
)

// fakeRemote plays back scripted responses to ListMessageIDs/ListHistory
// and resolves GetMessageFull from an in-memory message table, the same
// shape lib/actions' fakeRemote uses for ModifyLabels.
type fakeRemote struct {
	mu sync.Mutex

	listPages    [][]string // ListMessageIDs pages, consumed in order across calls
	listCursor   uint64
	messages     map[string]model.RawMessage
	historyPages [][]model.HistoryEvent
	historyErr   error // returned once, then cleared
	historyCur   uint64
}

func (f *fakeRemote) ListMessageIDs(ctx context.Context, account model.AccountID, pageToken string) ([]string, string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := 0
	if pageToken != "" {
		var err error
		idx, err = parsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
	}
	if idx >= len(f.listPages) {
		return nil, "", f.listCursor, nil
	}
	page := f.listPages[idx]
	next := ""
	if idx+1 < len(f.listPages) {
		next = formatPageToken(idx + 1)
	}
	return page, next, f.listCursor, nil
}

func (f *fakeRemote) GetMessageFull(ctx context.Context, account model.AccountID, remoteID string) (model.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.messages[remoteID]
	if !ok {
		return model.RawMessage{}, model.ErrNotFound
	}
	return raw, nil
}

func (f *fakeRemote) ListHistory(ctx context.Context, account model.AccountID, sinceCursor uint64, pageToken string) ([]model.HistoryEvent, string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		err := f.historyErr
		f.historyErr = nil
		return nil, "", 0, err
	}
	idx := 0
	if pageToken != "" {
		var err error
		idx, err = parsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
	}
	if idx >= len(f.historyPages) {
		return nil, "", f.historyCur, nil
	}
	page := f.historyPages[idx]
	next := ""
	if idx+1 < len(f.historyPages) {
		next = formatPageToken(idx + 1)
	}
	return page, next, f.historyCur, nil
}

func (f *fakeRemote) ListLabels(ctx context.Context, account model.AccountID) ([]model.Label, error) {
	return nil, nil
}

func (f *fakeRemote) ModifyLabels(ctx context.Context, account model.AccountID, id string, add, remove []model.LabelID) error {
	return nil
}

func parsePageToken(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, model.ErrParse
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func formatPageToken(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func rawMessage(id, threadID string, receivedAt int64) model.RawMessage {
	return model.RawMessage{
		RemoteID:       id,
		ThreadRemoteID: threadID,
		Labels:         []model.LabelID{model.LabelInbox},
		From:           model.EmailAddress{Name: "Sender", Email: "sender@example.com"},
		Subject:        "subject " + id,
		ReceivedAt:     receivedAt,
		InternalDate:   receivedAt,
		BodyText:       "body of " + id,
	}
}

type harness struct {
	db     *storage.DB
	blobs  *blobstore.Store
	index  *searchindex.Index
	remote *fakeRemote
	engine *Engine
}

func newHarness(t *testing.T) *harness {
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
	rem := &fakeRemote{messages: map[string]model.RawMessage{}}
	return &harness{db: db, blobs: blobs, index: ix, remote: rem, engine: New(db, blobs, ix, rem)}
}

const testAccount model.AccountID = 1

// TestInitialSyncFromEmpty exercises spec.md §8.4 scenario 1: two list
// pages, three messages across two threads, cursor 100.
func TestInitialSyncFromEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.listPages = [][]string{{"m1", "m2"}, {"m3"}}
	h.remote.listCursor = 100
	h.remote.messages["m1"] = rawMessage("m1", "t1", 1000)
	h.remote.messages["m2"] = rawMessage("m2", "t2", 2000)
	h.remote.messages["m3"] = rawMessage("m3", "t1", 3000)

	stats, err := h.engine.Sync(ctx, testAccount, nil)
	if err != nil {
		t.Fatalf("Sync() error %v", err)
	}
	if stats.MessagesCreated != 3 {
		t.Errorf("MessagesCreated = %d, want 3", stats.MessagesCreated)
	}

	threads, err := h.db.ListThreads(ctx, &testAccount, nil, 100, 0)
	if err != nil {
		t.Fatalf("ListThreads() error %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}

	var t1 *model.ThreadSummary
	for i := range threads {
		if threads[i].ID == "t1" {
			t1 = &threads[i]
		}
	}
	if t1 == nil {
		t.Fatal("thread t1 not found")
	}
	if t1.MessageCount != 2 {
		t.Errorf("t1.MessageCount = %d, want 2", t1.MessageCount)
	}
	if t1.LastMessageAt.UnixMilli() != 3000 {
		t.Errorf("t1.LastMessageAt = %v, want 3000ms", t1.LastMessageAt)
	}

	st, ok, err := h.db.GetSyncState(ctx, testAccount)
	if err != nil {
		t.Fatalf("GetSyncState() error %v", err)
	}
	if !ok {
		t.Fatal("GetSyncState() ok = false")
	}
	if st.HistoryCursor != 100 {
		t.Errorf("HistoryCursor = %d, want 100", st.HistoryCursor)
	}
	if !st.InitialSyncComplete {
		t.Error("InitialSyncComplete = false, want true")
	}

	depth, err := h.db.PendingDepth(ctx, testAccount)
	if err != nil {
		t.Fatalf("PendingDepth() error %v", err)
	}
	if depth != 0 {
		t.Errorf("PendingDepth() = %d, want 0", depth)
	}
}

// TestIncrementalAdd exercises spec.md §8.4 scenario 2: building on the
// initial sync, one added event for a message in a new thread advances the
// cursor and adds one thread/message.
func TestIncrementalAdd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.listPages = [][]string{{"m1", "m2"}, {"m3"}}
	h.remote.listCursor = 100
	h.remote.messages["m1"] = rawMessage("m1", "t1", 1000)
	h.remote.messages["m2"] = rawMessage("m2", "t2", 2000)
	h.remote.messages["m3"] = rawMessage("m3", "t1", 3000)
	if _, err := h.engine.Sync(ctx, testAccount, nil); err != nil {
		t.Fatalf("initial Sync() error %v", err)
	}

	h.remote.messages["m4"] = rawMessage("m4", "t3", 4000)
	h.remote.historyPages = [][]model.HistoryEvent{{
		{Type: model.HistoryAdded, MessageID: "m4", ThreadID: "t3"},
	}}
	h.remote.historyCur = 101

	stats, err := h.engine.Sync(ctx, testAccount, nil)
	if err != nil {
		t.Fatalf("incremental Sync() error %v", err)
	}
	if stats.MessagesCreated != 1 {
		t.Errorf("MessagesCreated = %d, want 1", stats.MessagesCreated)
	}

	threads, err := h.db.ListThreads(ctx, &testAccount, nil, 100, 0)
	if err != nil {
		t.Fatalf("ListThreads() error %v", err)
	}
	if len(threads) != 3 {
		t.Errorf("len(threads) = %d, want 3", len(threads))
	}

	st, _, err := h.db.GetSyncState(ctx, testAccount)
	if err != nil {
		t.Fatalf("GetSyncState() error %v", err)
	}
	if st.HistoryCursor != 101 {
		t.Errorf("HistoryCursor = %d, want 101", st.HistoryCursor)
	}
}

// TestHistoryExpiredFallsBackToSnapshot exercises spec.md §8.4 scenario 3:
// a history-expired response re-walks the full list without duplicating
// any existing rows, landing on the new cursor with initial sync complete.
func TestHistoryExpiredFallsBackToSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.listPages = [][]string{{"m1", "m2"}, {"m3"}}
	h.remote.listCursor = 100
	h.remote.messages["m1"] = rawMessage("m1", "t1", 1000)
	h.remote.messages["m2"] = rawMessage("m2", "t2", 2000)
	h.remote.messages["m3"] = rawMessage("m3", "t1", 3000)
	if _, err := h.engine.Sync(ctx, testAccount, nil); err != nil {
		t.Fatalf("initial Sync() error %v", err)
	}

	h.remote.messages["m4"] = rawMessage("m4", "t3", 4000)
	h.remote.historyPages = [][]model.HistoryEvent{{
		{Type: model.HistoryAdded, MessageID: "m4", ThreadID: "t3"},
	}}
	h.remote.historyCur = 101
	if _, err := h.engine.Sync(ctx, testAccount, nil); err != nil {
		t.Fatalf("incremental Sync() error %v", err)
	}

	h.remote.historyErr = model.ErrHistoryExpired
	h.remote.listPages = [][]string{{"m1", "m2", "m3", "m4"}}
	h.remote.listCursor = 150

	stats, err := h.engine.Sync(ctx, testAccount, nil)
	if err != nil {
		t.Fatalf("fallback Sync() error %v", err)
	}
	if stats.MessagesCreated != 0 {
		t.Errorf("MessagesCreated = %d, want 0 (all messages already exist)", stats.MessagesCreated)
	}
	if stats.MessagesUpdated != 4 {
		t.Errorf("MessagesUpdated = %d, want 4", stats.MessagesUpdated)
	}

	threads, err := h.db.ListThreads(ctx, &testAccount, nil, 100, 0)
	if err != nil {
		t.Fatalf("ListThreads() error %v", err)
	}
	if len(threads) != 3 {
		t.Errorf("len(threads) after fallback = %d, want 3 (no duplicates)", len(threads))
	}

	st, _, err := h.db.GetSyncState(ctx, testAccount)
	if err != nil {
		t.Fatalf("GetSyncState() error %v", err)
	}
	if st.HistoryCursor != 150 {
		t.Errorf("HistoryCursor = %d, want 150", st.HistoryCursor)
	}
	if !st.InitialSyncComplete {
		t.Error("InitialSyncComplete = false, want true")
	}
}
