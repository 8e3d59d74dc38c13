package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

const threadSelectColumns = `
	t.id, t.account_id, t.subject, t.snippet, t.last_message_at, t.message_count, t.sender_name, t.sender_email,
	EXISTS (
		SELECT 1 FROM message_labels ml JOIN messages m ON m.account_id = ml.account_id AND m.id = ml.message_id
		WHERE ml.account_id = t.account_id AND m.thread_id = t.id AND ml.label_id = 'UNREAD'
	),
	EXISTS (
		SELECT 1 FROM message_labels ml JOIN messages m ON m.account_id = ml.account_id AND m.id = ml.message_id
		WHERE ml.account_id = t.account_id AND m.thread_id = t.id AND ml.label_id = 'STARRED'
	)
`

func scanThreadSummary(row interface {
	Scan(dest ...any) error
}) (model.ThreadSummary, error) {
	var s model.ThreadSummary
	var lastMessageMs int64
	var unread, starred int
	err := row.Scan(&s.ID, &s.AccountID, &s.Subject, &s.Snippet, &lastMessageMs, &s.MessageCount, &s.SenderName, &s.SenderEmail, &unread, &starred)
	if err != nil {
		return model.ThreadSummary{}, err
	}
	s.LastMessageAt = time.UnixMilli(lastMessageMs)
	s.IsUnread = unread != 0
	s.HasStarred = starred != 0
	return s, nil
}

// ListThreads returns thread summaries, optionally filtered by label and/or
// account, newest first.
func (d *DB) ListThreads(ctx context.Context, account *model.AccountID, label *model.LabelID, limit, offset int) ([]model.ThreadSummary, error) {
	query := `SELECT` + threadSelectColumns + ` FROM threads t WHERE 1=1`
	var args []any
	if account != nil {
		query += ` AND t.account_id = ?`
		args = append(args, *account)
	}
	if label != nil {
		query += ` AND EXISTS (
			SELECT 1 FROM message_labels ml JOIN messages m ON m.account_id = ml.account_id AND m.id = ml.message_id
			WHERE ml.account_id = t.account_id AND m.thread_id = t.id AND ml.label_id = ?
		)`
		args = append(args, *label)
	}
	query += ` ORDER BY t.last_message_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list threads")
	}
	defer rows.Close()

	var out []model.ThreadSummary
	for rows.Next() {
		s, err := scanThreadSummary(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage: scan thread")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountThreads returns the number of threads matching the given filters.
func (d *DB) CountThreads(ctx context.Context, account *model.AccountID, label *model.LabelID) (int, error) {
	query := `SELECT COUNT(*) FROM threads t WHERE 1=1`
	var args []any
	if account != nil {
		query += ` AND t.account_id = ?`
		args = append(args, *account)
	}
	if label != nil {
		query += ` AND EXISTS (
			SELECT 1 FROM message_labels ml JOIN messages m ON m.account_id = ml.account_id AND m.id = ml.message_id
			WHERE ml.account_id = t.account_id AND m.thread_id = t.id AND ml.label_id = ?
		)`
		args = append(args, *label)
	}
	var n int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, errors.Wrap(err, "storage: count threads")
}

// CountUnread answers count_unread(label, account?): the number of distinct
// threads that have both label and UNREAD on at least one message, grouped
// by thread_id.
func (d *DB) CountUnread(ctx context.Context, label model.LabelID, account *model.AccountID) (int, error) {
	query := `
		SELECT COUNT(DISTINCT m.thread_id)
		FROM message_labels ml
		JOIN messages m ON m.account_id = ml.account_id AND m.id = ml.message_id
		JOIN message_labels mlu ON mlu.account_id = m.account_id AND mlu.message_id = m.id AND mlu.label_id = 'UNREAD'
		WHERE ml.label_id = ?
	`
	args := []any{label}
	if account != nil {
		query += ` AND m.account_id = ?`
		args = append(args, *account)
	}
	var n int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, errors.Wrap(err, "storage: count unread")
}

// GetThreadSummary returns one thread's summary row. Thread IDs are opaque
// remote strings; this looks the thread up across all accounts, returning
// model.ErrNotFound if no account has it. Used by search to join a hit back
// to its thread without paying for the full message list GetThreadDetail
// loads.
func (d *DB) GetThreadSummary(ctx context.Context, threadID string) (model.ThreadSummary, error) {
	row := d.db.QueryRowContext(ctx, `SELECT`+threadSelectColumns+` FROM threads t WHERE t.id = ?`, threadID)
	s, err := scanThreadSummary(row)
	if err == sql.ErrNoRows {
		return model.ThreadSummary{}, model.ErrNotFound
	}
	if err != nil {
		return model.ThreadSummary{}, errors.Wrap(err, "storage: get thread summary")
	}
	return s, nil
}

// GetThreadDetail returns a thread and its messages in received order.
// Thread IDs are opaque remote strings; this looks the thread up across all
// accounts, returning model.ErrNotFound if no account has it.
func (d *DB) GetThreadDetail(ctx context.Context, threadID string) (model.ThreadDetail, error) {
	summary, err := d.GetThreadSummary(ctx, threadID)
	if err != nil {
		return model.ThreadDetail{}, err
	}

	msgs, err := messagesForThread(ctx, d.db, summary.AccountID, threadID)
	if err != nil {
		return model.ThreadDetail{}, err
	}
	return model.ThreadDetail{Thread: summary.Thread, Messages: msgs}, nil
}

// MessagesForThread (transaction-scoped) returns a thread's messages in
// received order, for the action layer's read-modify-write step.
func (t *Tx) MessagesForThread(ctx context.Context, account model.AccountID, threadID string) ([]model.Message, error) {
	return messagesForThread(ctx, t.tx, account, threadID)
}

func messagesForThread(ctx context.Context, q queryer, account model.AccountID, threadID string) ([]model.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, thread_id, account_id, from_name, from_email, subject, received_at, internal_date,
			body_preview, body_text_hash, body_html_hash, has_attachment, history_id_seen
		FROM messages WHERE account_id = ? AND thread_id = ? ORDER BY received_at ASC, internal_date ASC
	`, account, threadID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: messages for thread")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var receivedMs int64
		var hasAttachment int
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.AccountID, &m.From.Name, &m.From.Email, &m.Subject,
			&receivedMs, &m.InternalDate, &m.BodyPreview, &m.BodyTextHash, &m.BodyHTMLHash, &hasAttachment, &m.HistoryIDSeen); err != nil {
			return nil, errors.Wrap(err, "storage: scan message")
		}
		m.ReceivedAt = time.UnixMilli(receivedMs)
		m.HasAttachment = hasAttachment != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		labels, err := messageLabels(ctx, q, account, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Labels = labels
		to, cc, err := recipients(ctx, q, account, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].To, out[i].CC = to, cc
	}
	return out, nil
}

func recipients(ctx context.Context, q queryer, account model.AccountID, messageID string) (to, cc []model.EmailAddress, err error) {
	rows, err := q.QueryContext(ctx, `
		SELECT kind, name, email FROM message_recipients
		WHERE account_id = ? AND message_id = ? ORDER BY kind, position ASC
	`, account, messageID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "storage: recipients")
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var a model.EmailAddress
		if err := rows.Scan(&kind, &a.Name, &a.Email); err != nil {
			return nil, nil, errors.Wrap(err, "storage: scan recipient")
		}
		if strings.EqualFold(kind, "to") {
			to = append(to, a)
		} else {
			cc = append(cc, a)
		}
	}
	return to, cc, rows.Err()
}
