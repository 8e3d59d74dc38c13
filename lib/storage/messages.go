package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// UpsertMessage inserts or updates a message and its label/recipient edges,
// then recomputes the owning thread's derived fields in the same
// transaction. Re-ingesting a message with an
// unchanged history_id_seen and no label delta is a no-op in effect, though
// idempotent to repeat. Reports whether the message row was newly created.
func (t *Tx) UpsertMessage(ctx context.Context, m model.Message) (created bool, err error) {
	var existed int
	if err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE account_id = ? AND id = ?
	`, m.AccountID, m.ID).Scan(&existed); err != nil {
		return false, errors.Wrap(err, "storage: upsert message: check existing")
	}
	created = existed == 0

	if _, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO threads (id, account_id, subject, snippet, last_message_at, message_count, sender_name, sender_email)
		VALUES (?, ?, '', '', 0, 0, '', '')
	`, m.ThreadID, m.AccountID); err != nil {
		return false, errors.Wrap(err, "storage: upsert message: ensure thread")
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, thread_id, account_id, from_name, from_email, subject,
			received_at, internal_date, body_preview, body_text_hash, body_html_hash, has_attachment, history_id_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, id) DO UPDATE SET
			thread_id = excluded.thread_id,
			from_name = excluded.from_name,
			from_email = excluded.from_email,
			subject = excluded.subject,
			received_at = excluded.received_at,
			internal_date = excluded.internal_date,
			body_preview = excluded.body_preview,
			body_text_hash = excluded.body_text_hash,
			body_html_hash = excluded.body_html_hash,
			has_attachment = excluded.has_attachment,
			history_id_seen = excluded.history_id_seen
	`, m.ID, m.ThreadID, m.AccountID, m.From.Name, m.From.Email, m.Subject,
		m.ReceivedAt.UnixMilli(), m.InternalDate, m.BodyPreview, m.BodyTextHash, m.BodyHTMLHash, boolToInt(m.HasAttachment), m.HistoryIDSeen)
	if err != nil {
		return false, errors.Wrap(err, "storage: upsert message")
	}

	if err := t.replaceLabels(ctx, m.AccountID, m.ID, m.Labels); err != nil {
		return false, err
	}
	if err := t.replaceRecipients(ctx, m.AccountID, m.ID, m.To, m.CC); err != nil {
		return false, err
	}
	if err := t.recomputeThread(ctx, m.AccountID, m.ThreadID); err != nil {
		return false, err
	}
	return created, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *Tx) replaceLabels(ctx context.Context, account model.AccountID, messageID string, labels map[model.LabelID]struct{}) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM message_labels WHERE account_id = ? AND message_id = ?
	`, account, messageID); err != nil {
		return errors.Wrap(err, "storage: clear labels")
	}
	for l := range labels {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO message_labels (account_id, message_id, label_id) VALUES (?, ?, ?)
		`, account, messageID, l); err != nil {
			return errors.Wrap(err, "storage: insert label")
		}
	}
	return nil
}

func (t *Tx) replaceRecipients(ctx context.Context, account model.AccountID, messageID string, to, cc []model.EmailAddress) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM message_recipients WHERE account_id = ? AND message_id = ?
	`, account, messageID); err != nil {
		return errors.Wrap(err, "storage: clear recipients")
	}
	insert := func(kind string, addrs []model.EmailAddress) error {
		for i, a := range addrs {
			if _, err := t.tx.ExecContext(ctx, `
				INSERT INTO message_recipients (account_id, message_id, kind, name, email, position)
				VALUES (?, ?, ?, ?, ?, ?)
			`, account, messageID, kind, a.Name, a.Email, i); err != nil {
				return errors.Wrapf(err, "storage: insert %s recipient", kind)
			}
		}
		return nil
	}
	if err := insert("to", to); err != nil {
		return err
	}
	return insert("cc", cc)
}

// MessageLabels returns the current label set for a message.
func (d *DB) MessageLabels(ctx context.Context, account model.AccountID, messageID string) (map[model.LabelID]struct{}, error) {
	return messageLabels(ctx, d.db, account, messageID)
}

// MessageLabels (transaction-scoped) returns the current label set for a
// message, for use by the action layer while a mutation is in flight.
func (t *Tx) MessageLabels(ctx context.Context, account model.AccountID, messageID string) (map[model.LabelID]struct{}, error) {
	return messageLabels(ctx, t.tx, account, messageID)
}

func messageLabels(ctx context.Context, q queryer, account model.AccountID, messageID string) (map[model.LabelID]struct{}, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT label_id FROM message_labels WHERE account_id = ? AND message_id = ?
	`, account, messageID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: message labels")
	}
	defer rows.Close()
	out := make(map[model.LabelID]struct{})
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, errors.Wrap(err, "storage: scan label")
		}
		out[model.LabelID(l)] = struct{}{}
	}
	return out, rows.Err()
}

// ThreadMessageIDs returns every message ID belonging to a thread.
func (t *Tx) ThreadMessageIDs(ctx context.Context, account model.AccountID, threadID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM messages WHERE account_id = ? AND thread_id = ?
	`, account, threadID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: thread message ids")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "storage: scan message id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceMessageLabels (transaction-scoped) overwrites a single message's
// label set, for use by the action layer's optimistic mutation step.
func (t *Tx) ReplaceMessageLabels(ctx context.Context, account model.AccountID, messageID string, labels map[model.LabelID]struct{}) error {
	return t.replaceLabels(ctx, account, messageID, labels)
}

// DeleteMessage removes a message and its edges, destroying the owning
// thread if it was the thread's last message.
func (t *Tx) DeleteMessage(ctx context.Context, account model.AccountID, messageID, threadID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM message_labels WHERE account_id = ? AND message_id = ?`, account, messageID); err != nil {
		return errors.Wrap(err, "storage: delete message labels")
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM message_recipients WHERE account_id = ? AND message_id = ?`, account, messageID); err != nil {
		return errors.Wrap(err, "storage: delete message recipients")
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM messages WHERE account_id = ? AND id = ?`, account, messageID); err != nil {
		return errors.Wrap(err, "storage: delete message")
	}
	return t.recomputeThread(ctx, account, threadID)
}

// recomputeThread recomputes a thread's derived fields from its current
// messages, or deletes the thread row if no messages remain.
func (t *Tx) recomputeThread(ctx context.Context, account model.AccountID, threadID string) error {
	var count int
	var lastMessageAt sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(received_at) FROM messages WHERE account_id = ? AND thread_id = ?
	`, account, threadID).Scan(&count, &lastMessageAt); err != nil {
		return errors.Wrap(err, "storage: recompute thread: count")
	}
	if count == 0 {
		_, err := t.tx.ExecContext(ctx, `DELETE FROM threads WHERE account_id = ? AND id = ?`, account, threadID)
		return errors.Wrap(err, "storage: recompute thread: delete empty thread")
	}

	var subject string
	if err := t.tx.QueryRowContext(ctx, `
		SELECT subject FROM messages WHERE account_id = ? AND thread_id = ? ORDER BY received_at ASC, internal_date ASC LIMIT 1
	`, account, threadID).Scan(&subject); err != nil {
		return errors.Wrap(err, "storage: recompute thread: subject")
	}

	var snippet, senderName, senderEmail string
	if err := t.tx.QueryRowContext(ctx, `
		SELECT body_preview, from_name, from_email FROM messages
		WHERE account_id = ? AND thread_id = ? ORDER BY received_at DESC, internal_date DESC LIMIT 1
	`, account, threadID).Scan(&snippet, &senderName, &senderEmail); err != nil {
		return errors.Wrap(err, "storage: recompute thread: newest message")
	}

	_, err := t.tx.ExecContext(ctx, `
		UPDATE threads SET subject = ?, snippet = ?, last_message_at = ?, message_count = ?, sender_name = ?, sender_email = ?
		WHERE account_id = ? AND id = ?
	`, subject, snippet, lastMessageAt.Int64, count, senderName, senderEmail, account, threadID)
	return errors.Wrap(err, "storage: recompute thread: update")
}
