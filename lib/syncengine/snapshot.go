package syncengine

import (
	"context"
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// runSnapshot performs a full list-and-ingest pass: page the entire
// message list, queuing every remote ID into pending_ingest, then drain
// the queue. On completion, marks initial_sync_complete and records the
// history cursor observed at the start of the list walk.
func (e *Engine) runSnapshot(ctx context.Context, account model.AccountID, progress chan<- model.ProgressEvent) (model.SyncStats, error) {
	coalesce := newCoalescer(progress)
	e.setState(account, StateSnapshotFetching)

	total, cursor, err := e.enqueueSnapshot(ctx, account, coalesce)
	if err != nil {
		return model.SyncStats{}, err
	}

	e.setState(account, StateSnapshotIngesting)
	stats, err := e.drainPending(ctx, account, model.PhaseSnapshotIngest, coalesce, total)
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
		HistoryCursor:       cursor,
		LastSyncAt:          time.Now(),
		InitialSyncComplete: true,
	}); err != nil {
		return stats, err
	}
	return stats, tx.Commit()
}

// enqueueSnapshot pages the full message list and writes each discovered
// remote ID into pending_ingest, one small transaction per page, the way
// spec'd: the producer commits as it goes rather than buffering the
// entire list in memory.
func (e *Engine) enqueueSnapshot(ctx context.Context, account model.AccountID, coalesce *coalescer) (total int, historyCursor uint64, err error) {
	page := ""
	fetched := 0
	for {
		if err := e.waitForHeadroom(ctx, account); err != nil {
			return fetched, historyCursor, err
		}
		ids, next, cursor, err := e.remote.ListMessageIDs(ctx, account, page)
		if err != nil {
			return fetched, historyCursor, err
		}
		if cursor > historyCursor {
			historyCursor = cursor
		}

		tx, err := e.storage.Begin(ctx)
		if err != nil {
			return fetched, historyCursor, err
		}
		for _, id := range ids {
			if err := tx.EnqueuePending(ctx, account, id, time.Now()); err != nil {
				tx.Rollback()
				return fetched, historyCursor, err
			}
		}
		if err := tx.Commit(); err != nil {
			return fetched, historyCursor, err
		}

		fetched += len(ids)
		coalesce.emit(model.ProgressEvent{AccountID: account, Phase: model.PhaseSnapshotFetch, Fetched: fetched}, next == "")

		page = next
		if page == "" {
			return fetched, historyCursor, nil
		}
	}
}

const headroomPollInterval = 200 * time.Millisecond

// waitForHeadroom blocks until the pending queue has drained below
// PendingLowWater, parking the producer so a very large mailbox never
// grows pending_ingest without bound while the consumer catches up.
func (e *Engine) waitForHeadroom(ctx context.Context, account model.AccountID) error {
	depth, err := e.storage.PendingDepth(ctx, account)
	if err != nil {
		return err
	}
	if depth <= e.PendingHighWater {
		return nil
	}
	for depth > e.PendingLowWater {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(headroomPollInterval):
		}
		depth, err = e.storage.PendingDepth(ctx, account)
		if err != nil {
			return err
		}
	}
	return nil
}
