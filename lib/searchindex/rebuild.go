package searchindex

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// RebuildCursor marks a position in the message walk a rebuild resumes
// from: (account, message id), the same composite order storage.AllMessages
// pages by.
type RebuildCursor struct {
	Account   model.AccountID
	MessageID string
}

// Fetch supplies one batch of documents for a rebuild, starting after
// cursor, plus the cursor to resume from and whether more batches remain.
// The facade implements this by joining storage.AllMessages against the
// blob store for body text.
type Fetch func(ctx context.Context, cursor RebuildCursor, limit int) (docs []Doc, next RebuildCursor, more bool, err error)

const rebuildBatchSize = 500

// rebuildInto clears ix and repopulates it from fetch in batches,
// reporting (done, total) after each batch. Grounded on wesm-msgvault's
// BackfillFTS: batched, independently committed writes with a progress
// callback rather than one giant transaction.
func (ix *Index) rebuildInto(ctx context.Context, total int, fetch Fetch, progress func(done, total int)) error {
	if err := ix.Clear(ctx); err != nil {
		return err
	}
	var cursor RebuildCursor
	done := 0
	for {
		docs, next, more, err := fetch(ctx, cursor, rebuildBatchSize)
		if err != nil {
			return errors.Wrap(err, "searchindex: rebuild: fetch")
		}
		for _, d := range docs {
			if err := ix.Upsert(ctx, d); err != nil {
				return err
			}
		}
		done += len(docs)
		if progress != nil {
			progress(done, total)
		}
		if !more {
			return nil
		}
		cursor = next
	}
}

// Rebuild reindexes the entire store into a fresh file alongside path, then
// renames it over path so readers never see a partially rebuilt index: the
// same temp-file-then-rename atomicity blobstore.Store uses for writing a
// blob. Returns a freshly opened Index on the rebuilt file; the caller
// should Close the old Index first (SQLite holds the file open otherwise,
// which would make the rename racy on some platforms).
func Rebuild(ctx context.Context, path string, total int, fetch Fetch, progress func(done, total int)) (*Index, error) {
	tmpPath := path + ".rebuild-tmp"
	os.Remove(tmpPath)

	tmp, err := Open(ctx, tmpPath)
	if err != nil {
		return nil, errors.Wrap(err, "searchindex: rebuild: open scratch index")
	}
	if err := tmp.rebuildInto(ctx, total, fetch, progress); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, errors.Wrap(err, "searchindex: rebuild: close scratch index")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, errors.Wrap(err, "searchindex: rebuild: swap")
	}
	return Open(ctx, path)
}
