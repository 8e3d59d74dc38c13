package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// GetSyncState returns the account's sync state, or the zero value with ok
// false if the account has never synced.
func (d *DB) GetSyncState(ctx context.Context, account model.AccountID) (model.SyncState, bool, error) {
	return getSyncState(ctx, d.db, account)
}

func getSyncState(ctx context.Context, q queryer, account model.AccountID) (model.SyncState, bool, error) {
	var s model.SyncState
	var lastSyncMs int64
	var initialComplete int
	err := q.QueryRowContext(ctx, `
		SELECT account_id, history_cursor, last_sync_at, initial_sync_complete, sync_version
		FROM sync_state WHERE account_id = ?
	`, account).Scan(&s.AccountID, &s.HistoryCursor, &lastSyncMs, &initialComplete, &s.SyncVersion)
	if err == sql.ErrNoRows {
		return model.SyncState{AccountID: account}, false, nil
	}
	if err != nil {
		return model.SyncState{}, false, errors.Wrap(err, "storage: get sync state")
	}
	s.LastSyncAt = time.UnixMilli(lastSyncMs)
	s.InitialSyncComplete = initialComplete != 0
	return s, true, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so read helpers can run
// either inside or outside a transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetSyncState (transaction-scoped) mirrors DB.GetSyncState.
func (t *Tx) GetSyncState(ctx context.Context, account model.AccountID) (model.SyncState, bool, error) {
	return getSyncState(ctx, t.tx, account)
}

// UpsertSyncState writes the account's sync state. history_cursor and
// last_sync_at are enforced non-decreasing: a caller trying to move either
// backward gets model.ErrConflict.
func (t *Tx) UpsertSyncState(ctx context.Context, s model.SyncState) error {
	existing, ok, err := t.GetSyncState(ctx, s.AccountID)
	if err != nil {
		return err
	}
	if ok {
		if s.HistoryCursor < existing.HistoryCursor {
			return errors.Wrapf(model.ErrConflict, "history_cursor would decrease from %d to %d", existing.HistoryCursor, s.HistoryCursor)
		}
		if s.LastSyncAt.Before(existing.LastSyncAt) {
			return errors.Wrap(model.ErrConflict, "last_sync_at would decrease")
		}
	}
	initialComplete := 0
	if s.InitialSyncComplete {
		initialComplete = 1
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sync_state (account_id, history_cursor, last_sync_at, initial_sync_complete, sync_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			history_cursor = excluded.history_cursor,
			last_sync_at = excluded.last_sync_at,
			initial_sync_complete = excluded.initial_sync_complete,
			sync_version = excluded.sync_version
	`, s.AccountID, s.HistoryCursor, s.LastSyncAt.UnixMilli(), initialComplete, s.SyncVersion)
	if err != nil {
		return errors.Wrap(err, "storage: upsert sync state")
	}
	return nil
}

// ResetForSnapshotFallback clears the history cursor and
// initial-sync-complete flag without touching any message/thread rows: data
// is not deleted, the next snapshot simply re-walks IDs and dedupes.
func (t *Tx) ResetForSnapshotFallback(ctx context.Context, account model.AccountID) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sync_state SET history_cursor = 0, initial_sync_complete = 0
		WHERE account_id = ?
	`, account)
	return errors.Wrap(err, "storage: reset for snapshot fallback")
}
