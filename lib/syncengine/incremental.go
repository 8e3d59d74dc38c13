package syncengine

import (
	"context"
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// runIncremental pages list_history from cursor, enqueuing added/relabeled
// message IDs for the ingest consumer and applying deletes directly (no
// body fetch needed to remove a row). A HistoryExpired error propagates to
// Engine.Sync, which resets the account and retries as a snapshot.
func (e *Engine) runIncremental(ctx context.Context, account model.AccountID, cursor uint64, progress chan<- model.ProgressEvent) (model.SyncStats, error) {
	coalesce := newCoalescer(progress)
	e.setState(account, StateHistoryFetching)

	newCursor, total, err := e.enqueueHistory(ctx, account, cursor, coalesce)
	if err != nil {
		return model.SyncStats{}, err
	}

	e.setState(account, StateHistoryIngesting)
	stats, err := e.drainPending(ctx, account, model.PhaseHistoryIngest, coalesce, total)
	stats.MessagesFetched += total
	if err != nil {
		return stats, err
	}

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()
	if err := tx.UpsertSyncState(ctx, model.SyncState{
		AccountID:           account,
		HistoryCursor:       newCursor,
		LastSyncAt:          time.Now(),
		InitialSyncComplete: true,
	}); err != nil {
		return stats, err
	}
	return stats, tx.Commit()
}

// enqueueHistory pages list_history and, per page, enqueues added/relabeled
// message IDs into pending_ingest and deletes messages reported gone, all
// in one transaction per page.
func (e *Engine) enqueueHistory(ctx context.Context, account model.AccountID, cursor uint64, coalesce *coalescer) (newCursor uint64, total int, err error) {
	page := ""
	newCursor = cursor
	for {
		if err := e.waitForHeadroom(ctx, account); err != nil {
			return newCursor, total, err
		}
		events, next, c, err := e.remote.ListHistory(ctx, account, cursor, page)
		if err != nil {
			return newCursor, total, err
		}
		if c > newCursor {
			newCursor = c
		}

		tx, err := e.storage.Begin(ctx)
		if err != nil {
			return newCursor, total, err
		}
		for _, ev := range events {
			switch ev.Type {
			case model.HistoryAdded, model.HistoryLabelsChanged:
				if err := tx.EnqueuePending(ctx, account, ev.MessageID, time.Now()); err != nil {
					tx.Rollback()
					return newCursor, total, err
				}
				total++
			case model.HistoryDeleted:
				if err := tx.DeleteMessage(ctx, account, ev.MessageID, ev.ThreadID); err != nil {
					tx.Rollback()
					return newCursor, total, err
				}
			}
		}
		if err := tx.Commit(); err != nil {
			return newCursor, total, err
		}
		for _, ev := range events {
			if ev.Type == model.HistoryDeleted {
				if err := e.index.Delete(ctx, account, ev.MessageID); err != nil {
					return newCursor, total, err
				}
			}
		}

		coalesce.emit(model.ProgressEvent{AccountID: account, Phase: model.PhaseHistoryFetch, Fetched: total}, next == "")

		page = next
		if page == "" {
			return newCursor, total, nil
		}
	}
}
