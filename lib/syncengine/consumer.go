package syncengine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/searchindex"
)

// drainPending repeatedly takes a batch of up to e.BatchSize pending
// entries and resolves them via processBatch. Continues until the queue is
// empty.
func (e *Engine) drainPending(ctx context.Context, account model.AccountID, phase model.SyncPhase, coalesce *coalescer, total int) (model.SyncStats, error) {
	var stats model.SyncStats
	processed := 0
	for {
		batchStats, n, hasMore, err := e.processBatch(ctx, account, e.BatchSize)
		stats = mergeStats(stats, batchStats)
		processed += n
		if err != nil {
			return stats, err
		}
		coalesce.emit(model.ProgressEvent{AccountID: account, Phase: phase, Processed: processed, Total: total}, !hasMore)
		if !hasMore {
			return stats, nil
		}
	}
}

// ProcessPendingBatch answers process_pending_batch: resolves up to size
// queued remote IDs in one pass, without a fresh list/history page, and
// reports the queue depth left behind. Used by hosts that drive fetch and
// ingest as separate, overlapped steps instead of calling Sync end to end.
func (e *Engine) ProcessPendingBatch(ctx context.Context, account model.AccountID, size int) (model.BatchResult, error) {
	stats, processed, _, err := e.processBatch(ctx, account, size)
	if err != nil {
		return model.BatchResult{}, err
	}
	remaining, derr := e.storage.PendingDepth(ctx, account)
	if derr != nil {
		return model.BatchResult{}, derr
	}
	return model.BatchResult{
		Processed: processed,
		Created:   stats.MessagesCreated,
		Updated:   stats.MessagesUpdated,
		Skipped:   stats.MessagesSkipped,
		Remaining: remaining,
	}, nil
}

// processBatch resolves one batch of up to limit pending entries
// concurrently (bounded by e.Concurrency) via get_message_full, and commits
// the batch's writes to storage and the search index together, deleting
// the resolved pending rows. Mirrors gotmuch's pullDownload: one
// db.Begin(ctx) per batch, shared across the errgroup's concurrent
// fetches, committed once all of the batch's writes have landed. hasMore
// reports whether the batch was full, i.e. more may remain queued.
func (e *Engine) processBatch(ctx context.Context, account model.AccountID, limit int) (stats model.SyncStats, processed int, hasMore bool, err error) {
	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return stats, 0, false, err
	}

	pending, err := tx.DequeueBatch(ctx, account, limit)
	if err != nil {
		tx.Rollback()
		return stats, 0, false, err
	}
	if len(pending) == 0 {
		tx.Rollback()
		return stats, 0, false, nil
	}

	results := make([]resolved, len(pending))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.Concurrency)
	for i, p := range pending {
		i, p := i, p
		grp.Go(func() error {
			raw, err := e.remote.GetMessageFull(gctx, account, p.RemoteID)
			results[i] = resolved{remoteID: p.RemoteID, raw: raw, err: err}
			return nil
		})
	}
	// Errors from individual fetches are carried in results, not returned
	// by Wait, so one malformed message never aborts the rest of the
	// batch; Wait only ever reports context cancellation here.
	if err := grp.Wait(); err != nil {
		tx.Rollback()
		return stats, 0, false, err
	}

	batch, err := e.index.Begin(ctx)
	if err != nil {
		tx.Rollback()
		return stats, 0, false, err
	}

	for _, r := range results {
		if r.err != nil {
			stats.Errors++
			skipped, ferr := tx.MarkAttemptFailed(ctx, account, r.remoteID, e.MaxPendingAttempts, time.Now())
			if ferr != nil {
				tx.Rollback()
				batch.Rollback()
				return stats, processed, false, ferr
			}
			if skipped {
				stats.MessagesSkipped++
			}
			continue
		}
		m, snippet, err := buildMessage(account, r.raw)
		if err != nil {
			stats.Errors++
			skipped, ferr := tx.MarkAttemptFailed(ctx, account, r.remoteID, e.MaxPendingAttempts, time.Now())
			if ferr != nil {
				tx.Rollback()
				batch.Rollback()
				return stats, processed, false, ferr
			}
			if skipped {
				stats.MessagesSkipped++
			}
			continue
		}
		textHash, htmlHash, err := e.storeBlobs(r.raw.BodyText, r.raw.BodyHTML)
		if err != nil {
			tx.Rollback()
			batch.Rollback()
			return stats, processed, false, err
		}
		m.BodyTextHash, m.BodyHTMLHash = textHash, htmlHash

		created, err := tx.UpsertMessage(ctx, m)
		if err != nil {
			tx.Rollback()
			batch.Rollback()
			return stats, processed, false, err
		}
		if err := batch.Upsert(ctx, searchindex.DocFromMessage(account, m, snippet, r.raw.BodyText)); err != nil {
			tx.Rollback()
			batch.Rollback()
			return stats, processed, false, err
		}
		if err := tx.DeletePending(ctx, account, r.remoteID); err != nil {
			tx.Rollback()
			batch.Rollback()
			return stats, processed, false, err
		}
		if created {
			stats.MessagesCreated++
		} else {
			stats.MessagesUpdated++
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		batch.Rollback()
		return stats, processed, false, err
	}
	if err := batch.Commit(); err != nil {
		return stats, processed, false, err
	}

	return stats, processed, len(pending) == limit, nil
}

// buildMessage translates a raw remote message into the row shape storage
// expects. Returns an error only for the degenerate case of a message with
// no remote ID; everything else — missing headers, unparseable dates — is
// already defaulted by lib/remote's parser.
func buildMessage(account model.AccountID, raw model.RawMessage) (model.Message, string, error) {
	m := model.Message{
		ID:            raw.RemoteID,
		ThreadID:      raw.ThreadRemoteID,
		AccountID:     account,
		From:          raw.From,
		To:            raw.To,
		CC:            raw.CC,
		Subject:       raw.Subject,
		InternalDate:  raw.InternalDate,
		HasAttachment: raw.HasAttachment,
		Labels:        labelSet(raw.Labels),
		HistoryIDSeen: raw.HistoryID,
	}
	if raw.ReceivedAt != 0 {
		m.ReceivedAt = time.UnixMilli(raw.ReceivedAt)
	} else {
		m.ReceivedAt = time.UnixMilli(raw.InternalDate)
	}
	snippet := snippetFrom(raw)
	m.BodyPreview = snippet
	return m, snippet, nil
}
