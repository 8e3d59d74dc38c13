package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// EnqueuePending records a remote ID the producer discovered. Append-only
// and idempotent: re-enqueuing an ID already pending is a no-op.
func (t *Tx) EnqueuePending(ctx context.Context, account model.AccountID, remoteID string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_ingest (account_id, remote_id, enqueued_at, attempts)
		VALUES (?, ?, ?, 0)
	`, account, remoteID, now.UnixMilli())
	return errors.Wrap(err, "storage: enqueue pending")
}

// PendingDepth returns the number of not-yet-failed entries queued for
// account, used by the producer to implement backpressure when the queue
// grows too deep.
func (d *DB) PendingDepth(ctx context.Context, account model.AccountID) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_ingest WHERE account_id = ? AND failed_at IS NULL
	`, account).Scan(&n)
	return n, errors.Wrap(err, "storage: pending depth")
}

// DequeueBatch (transaction-scoped) returns up to limit not-yet-failed
// pending entries for account, FIFO by enqueued_at.
func (t *Tx) DequeueBatch(ctx context.Context, account model.AccountID, limit int) ([]model.PendingMessage, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT remote_id, account_id, enqueued_at, attempts
		FROM pending_ingest
		WHERE account_id = ? AND failed_at IS NULL
		ORDER BY enqueued_at ASC
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: dequeue batch")
	}
	defer rows.Close()

	var out []model.PendingMessage
	for rows.Next() {
		var p model.PendingMessage
		var enqueuedMs int64
		if err := rows.Scan(&p.RemoteID, &p.AccountID, &enqueuedMs, &p.Attempts); err != nil {
			return nil, errors.Wrap(err, "storage: scan pending")
		}
		p.EnqueuedAt = time.UnixMilli(enqueuedMs)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePending removes a successfully ingested entry.
func (t *Tx) DeletePending(ctx context.Context, account model.AccountID, remoteID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM pending_ingest WHERE account_id = ? AND remote_id = ?
	`, account, remoteID)
	return errors.Wrap(err, "storage: delete pending")
}

// MarkAttemptFailed increments the attempt counter for a pending entry, and
// stamps failed_at once maxAttempts is reached — left in place rather than
// deleted, so operators can inspect permanently-failed remote IDs. Reports
// whether this call was the one that crossed the ceiling, so callers can
// count a permanently-skipped message exactly once.
func (t *Tx) MarkAttemptFailed(ctx context.Context, account model.AccountID, remoteID string, maxAttempts int, now time.Time) (permanentlyFailed bool, err error) {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE pending_ingest SET attempts = attempts + 1 WHERE account_id = ? AND remote_id = ?
	`, account, remoteID); err != nil {
		return false, errors.Wrap(err, "storage: increment attempts")
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE pending_ingest SET failed_at = ?
		WHERE account_id = ? AND remote_id = ? AND attempts >= ? AND failed_at IS NULL
	`, now.UnixMilli(), account, remoteID, maxAttempts)
	if err != nil {
		return false, errors.Wrap(err, "storage: mark failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "storage: mark failed: rows affected")
	}
	return n > 0, nil
}
