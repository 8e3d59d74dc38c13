package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// AllMessages walks every message across every account, oldest
// (account_id, id) first, in batches of limit. Called repeatedly with the
// last row's (account_id, id) as the cursor until it returns fewer than
// limit rows.
func (d *DB) AllMessages(ctx context.Context, afterAccount model.AccountID, afterID string, limit int) ([]model.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, thread_id, account_id, from_name, from_email, subject, received_at, internal_date,
			body_preview, body_text_hash, body_html_hash, has_attachment, history_id_seen
		FROM messages
		WHERE (account_id, id) > (?, ?)
		ORDER BY account_id ASC, id ASC
		LIMIT ?
	`, afterAccount, afterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: all messages")
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
		labels, err := d.MessageLabels(ctx, out[i].AccountID, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Labels = labels
		to, cc, err := recipients(ctx, d.db, out[i].AccountID, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].To, out[i].CC = to, cc
	}
	return out, nil
}

// CountMessages returns the total row count, used only to size rebuild
// progress reporting.
func (d *DB) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, errors.Wrap(err, "storage: count messages")
}

// AddressList renders a slice of addresses as space-joined "name email"
// tokens, the shallow text the search index tokenizes for to:/cc: matching.
func AddressList(addrs []model.EmailAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Name + " " + a.Email
	}
	return strings.Join(parts, " ")
}
