// Package facade composes the relational store, blob store, search index,
// sync engine, and action layer into the single host-agnostic object an
// embedder drives: one constructor taking explicit on-disk paths, a handful
// of blocking methods, and a shared progress channel, the way outtake's
// Gmail type let main.go drive a sync without knowing anything about
// lib/gmail's internals.
package facade

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/actions"
	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/remote"
	"github.com/hunterclarke/cosmos/lib/searchindex"
	"github.com/hunterclarke/cosmos/lib/storage"
	"github.com/hunterclarke/cosmos/lib/syncengine"
)

// Facade is the engine's entire public surface. Read-only methods run
// directly against storage/the search index; mutating methods (sync,
// archive/trash/star/labels) are serialized per account by the components
// they delegate to (storage.DB.Lock).
type Facade struct {
	dbPath    string
	indexPath string

	db      *storage.DB
	blobs   *blobstore.Store
	index   *searchindex.Index
	remote  remote.Remote
	engine  *syncengine.Engine
	actions *actions.Actions
}

// Paths names the on-disk layout a Facade is constructed with, per the
// engine's §6.2 directory convention: dbPath/indexPath/blobRoot are
// siblings under one data directory.
type Paths struct {
	DBPath      string
	BlobRoot    string
	SearchIndex string
}

// DefaultPaths lays out the three stores as siblings of root, the shape
// main.go's demo host uses.
func DefaultPaths(root string) Paths {
	return Paths{
		DBPath:      filepath.Join(root, "mail.db"),
		BlobRoot:    filepath.Join(root, "blobs"),
		SearchIndex: filepath.Join(root, "search.idx"),
	}
}

// New opens (creating if absent) the relational store, blob store, and
// search index at the given paths, and wires a sync engine and action
// layer against rem.
func New(ctx context.Context, paths Paths, rem remote.Remote) (*Facade, error) {
	db, err := storage.Open(ctx, paths.DBPath)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.Open(paths.BlobRoot)
	if err != nil {
		db.Close()
		return nil, err
	}
	index, err := searchindex.Open(ctx, paths.SearchIndex)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Facade{
		dbPath:    paths.DBPath,
		indexPath: paths.SearchIndex,
		db:        db,
		blobs:     blobs,
		index:     index,
		remote:    rem,
		engine:    syncengine.New(db, blobs, index, rem),
		actions:   actions.New(db, blobs, index, rem),
	}, nil
}

// Close releases the store and index file handles.
func (f *Facade) Close() error {
	if err := f.index.Close(); err != nil {
		f.db.Close()
		return err
	}
	return f.db.Close()
}

// RegisterAccount creates a new local account record for email.
func (f *Facade) RegisterAccount(ctx context.Context, email, displayName, avatarColor string) (model.Account, error) {
	tx, err := f.db.Begin(ctx)
	if err != nil {
		return model.Account{}, err
	}
	defer tx.Rollback()
	acct, err := tx.InsertAccount(ctx, email, displayName, avatarColor, time.Now())
	if err != nil {
		return model.Account{}, err
	}
	return acct, tx.Commit()
}

// ListAccounts returns every registered account.
func (f *Facade) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return f.db.ListAccounts(ctx)
}

// ListThreads answers list_threads, optionally scoped to a label and/or
// account.
func (f *Facade) ListThreads(ctx context.Context, account *model.AccountID, label *model.LabelID, limit, offset int) ([]model.ThreadSummary, error) {
	return f.db.ListThreads(ctx, account, label, limit, offset)
}

// GetThreadDetail answers get_thread_detail.
func (f *Facade) GetThreadDetail(ctx context.Context, threadID string) (model.ThreadDetail, error) {
	return f.db.GetThreadDetail(ctx, threadID)
}

// CountThreads answers count_threads.
func (f *Facade) CountThreads(ctx context.Context, account *model.AccountID, label *model.LabelID) (int, error) {
	return f.db.CountThreads(ctx, account, label)
}

// CountUnread answers count_unread.
func (f *Facade) CountUnread(ctx context.Context, label model.LabelID, account *model.AccountID) (int, error) {
	return f.db.CountUnread(ctx, label, account)
}

// Search answers search(query, limit, account?), joining each hit back to
// its thread summary.
func (f *Facade) Search(ctx context.Context, account *model.AccountID, query string, limit int) ([]model.SearchResult, error) {
	hits, err := f.index.Search(ctx, account, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		summary, err := f.db.GetThreadSummary(ctx, h.ThreadID)
		if err != nil {
			if errors.Cause(err) == model.ErrNotFound {
				// A hit can outlive its thread between a delete landing in
				// storage and the matching index delete committing; skip it
				// rather than fail the whole search.
				continue
			}
			return nil, err
		}
		out = append(out, model.SearchResult{
			ThreadSummary: summary,
			MessageID:     h.MessageID,
			Score:         h.Score,
			Highlights:    h.Highlights,
		})
	}
	return out, nil
}

// SyncAccount answers sync_account: drives one account's sync transition
// to completion, emitting coalesced progress events on progress (which may
// be nil).
func (f *Facade) SyncAccount(ctx context.Context, account model.AccountID, progress chan<- model.ProgressEvent) (model.SyncStats, error) {
	return f.engine.Sync(ctx, account, progress)
}

// SyncState answers get_sync_state.
func (f *Facade) SyncState(ctx context.Context, account model.AccountID) (model.SyncState, bool, error) {
	return f.db.GetSyncState(ctx, account)
}

// EngineState returns the account's current position in the sync state
// machine, for hosts that want to render sync progress outside of an
// in-flight SyncAccount call.
func (f *Facade) EngineState(account model.AccountID) syncengine.State {
	return f.engine.State(account)
}

// ProcessPendingBatch answers process_pending_batch: resolves up to size
// queued remote IDs without running a fresh list/history pass, for hosts
// that want to overlap a long fetch phase with incremental ingest.
func (f *Facade) ProcessPendingBatch(ctx context.Context, account model.AccountID, size int) (model.BatchResult, error) {
	unlock := f.db.Lock(account)
	defer unlock()
	return f.engine.ProcessPendingBatch(ctx, account, size)
}

// ArchiveThread answers archive_thread.
func (f *Facade) ArchiveThread(ctx context.Context, account model.AccountID, threadID string) error {
	return f.actions.Archive(ctx, account, threadID)
}

// TrashThread answers trash_thread.
func (f *Facade) TrashThread(ctx context.Context, account model.AccountID, threadID string) error {
	return f.actions.Trash(ctx, account, threadID)
}

// SetRead answers set_read.
func (f *Facade) SetRead(ctx context.Context, account model.AccountID, threadID string, read bool) error {
	return f.actions.SetRead(ctx, account, threadID, read)
}

// ToggleStar answers toggle_star, returning the thread's new starred state.
func (f *Facade) ToggleStar(ctx context.Context, account model.AccountID, threadID string) (bool, error) {
	return f.actions.ToggleStar(ctx, account, threadID)
}

// ApplyLabels answers apply_labels.
func (f *Facade) ApplyLabels(ctx context.Context, account model.AccountID, threadID string, add, remove []model.LabelID) error {
	return f.actions.ApplyLabels(ctx, account, threadID, add, remove)
}

// RebuildSearchIndex answers rebuild_search_index: reindexes every stored
// message from the relational store and blob store into a fresh index
// file, then swaps it in. Returns the number of documents written.
func (f *Facade) RebuildSearchIndex(ctx context.Context) (int, error) {
	total, err := f.db.CountMessages(ctx)
	if err != nil {
		return 0, err
	}
	fetch := func(ctx context.Context, cursor searchindex.RebuildCursor, limit int) ([]searchindex.Doc, searchindex.RebuildCursor, bool, error) {
		msgs, err := f.db.AllMessages(ctx, cursor.Account, cursor.MessageID, limit)
		if err != nil {
			return nil, cursor, false, err
		}
		docs := make([]searchindex.Doc, len(msgs))
		for i, m := range msgs {
			bodyText, err := f.loadBodyText(m.BodyTextHash)
			if err != nil {
				return nil, cursor, false, err
			}
			docs[i] = searchindex.DocFromMessage(m.AccountID, m, m.BodyPreview, bodyText)
		}
		next := cursor
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			next = searchindex.RebuildCursor{Account: last.AccountID, MessageID: last.ID}
		}
		return docs, next, len(msgs) == limit, nil
	}

	if err := f.index.Close(); err != nil {
		return 0, errors.Wrap(err, "facade: close stale index handle")
	}
	rebuilt, err := searchindex.Rebuild(ctx, f.indexPath, total, fetch, nil)
	if err != nil {
		return 0, err
	}
	f.index = rebuilt
	f.engine = syncengine.New(f.db, f.blobs, f.index, f.remote)
	f.actions = actions.New(f.db, f.blobs, f.index, f.remote)
	return total, nil
}

func (f *Facade) loadBodyText(hash string) (string, error) {
	if hash == "" {
		return "", nil
	}
	h, err := blobstore.ParseHash(hash)
	if err != nil {
		return "", errors.Wrap(err, "facade: parse body hash")
	}
	payload, err := f.blobs.Get(h)
	if err != nil {
		return "", errors.Wrap(err, "facade: load body text")
	}
	return string(payload), nil
}
