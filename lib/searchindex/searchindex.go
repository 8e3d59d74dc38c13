// Package searchindex implements the inverted text index that runs
// alongside the relational store: a SQLite FTS5 virtual table in its own
// database file, grounded the way spilled-ink-spilld's spillbox.MsgSearch
// table and wesm-msgvault's messages_fts backfill/upsert pair both use
// database/sql + mattn/go-sqlite3's fts5 build against the same library the
// relational store already depends on, rather than reaching for a separate
// search engine.
package searchindex

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// Index is a handle to the message_search FTS5 table. It lives in its own
// SQLite file, separate from the relational store, so a rebuild can swap
// the active file without touching account/thread/message data.
type Index struct {
	db *sql.DB
}

const createFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS message_search USING fts5(
	subject, body_text, snippet, from_name, from_email, to_addr, cc_addr,
	account_id UNINDEXED,
	thread_id UNINDEXED,
	message_id UNINDEXED,
	labels UNINDEXED,
	received_at_ms UNINDEXED,
	is_unread UNINDEXED,
	is_starred UNINDEXED,
	has_attachment UNINDEXED
);`

func dsnFromPath(path string) (string, error) {
	u := &url.URL{Scheme: "file", Path: path}
	values := u.Query()
	values.Set("_busy_timeout", fmt.Sprintf("%d", int(5*time.Minute/time.Millisecond)))
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (creating if absent) the FTS5 database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn, err := dsnFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "searchindex: open(%q): bad dsn", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "searchindex: open(%q)", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createFTS); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "searchindex: open(%q): schema", path)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Doc is everything the index needs about one message: the tokenized text
// fields, the label set used for in:/is: filters, and the fast companion
// columns FTS5 itself cannot range-query.
type Doc struct {
	AccountID     model.AccountID
	ThreadID      string
	MessageID     string
	Subject       string
	BodyText      string
	Snippet       string
	FromName      string
	FromEmail     string
	To            string
	CC            string
	Labels        []model.LabelID
	ReceivedAtMs  int64
	IsUnread      bool
	IsStarred     bool
	HasAttachment bool
}

// DocFromMessage builds the document the index stores for a message,
// shared by the ingest consumer and the action layer so a label-only
// mutation re-derives the same shape a fresh ingest would have produced.
// snippet is the message's stored preview text; bodyText is the full
// plain-text body (empty is fine, it just drops out of free-text matches).
func DocFromMessage(account model.AccountID, m model.Message, snippet, bodyText string) Doc {
	_, isUnread := m.Labels[model.LabelUnread]
	_, isStarred := m.Labels[model.LabelStarred]
	labels := make([]model.LabelID, 0, len(m.Labels))
	for l := range m.Labels {
		labels = append(labels, l)
	}
	return Doc{
		AccountID:     account,
		ThreadID:      m.ThreadID,
		MessageID:     m.ID,
		Subject:       m.Subject,
		BodyText:      bodyText,
		Snippet:       snippet,
		FromName:      m.From.Name,
		FromEmail:     m.From.Email,
		To:            addressList(m.To),
		CC:            addressList(m.CC),
		Labels:        labels,
		ReceivedAtMs:  m.ReceivedAt.UnixMilli(),
		IsUnread:      isUnread,
		IsStarred:     isStarred,
		HasAttachment: m.HasAttachment,
	}
}

func addressList(addrs []model.EmailAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Name + " " + a.Email
	}
	return strings.Join(parts, " ")
}

func labelTerms(labels []model.LabelID) string {
	terms := make([]string, len(labels))
	for i, l := range labels {
		terms[i] = strings.ToLower(string(l))
	}
	return strings.Join(terms, " ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the write helpers
// below work identically outside or inside a batch.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertDoc(ctx context.Context, ex execer, d Doc) error {
	if _, err := ex.ExecContext(ctx, `
		DELETE FROM message_search WHERE message_id = ? AND account_id = ?
	`, d.MessageID, d.AccountID); err != nil {
		return errors.Wrap(err, "searchindex: upsert: clear")
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO message_search (
			subject, body_text, snippet, from_name, from_email, to_addr, cc_addr,
			account_id, thread_id, message_id, labels, received_at_ms,
			is_unread, is_starred, has_attachment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Subject, d.BodyText, d.Snippet, d.FromName, d.FromEmail, d.To, d.CC,
		d.AccountID, d.ThreadID, d.MessageID, labelTerms(d.Labels), d.ReceivedAtMs,
		boolInt(d.IsUnread), boolInt(d.IsStarred), boolInt(d.HasAttachment))
	return errors.Wrap(err, "searchindex: upsert")
}

// Upsert inserts or replaces one message's document, keyed on message_id +
// account_id (FTS5 has no natural unique constraint, so the old row, if
// any, is deleted first), committed immediately. Batch.Upsert is the
// batched equivalent used by the ingest consumer.
func (ix *Index) Upsert(ctx context.Context, d Doc) error {
	return upsertDoc(ctx, ix.db, d)
}

// Delete removes a message's document, e.g. after the message itself is
// deleted from the relational store.
func (ix *Index) Delete(ctx context.Context, account model.AccountID, messageID string) error {
	_, err := ix.db.ExecContext(ctx, `
		DELETE FROM message_search WHERE message_id = ? AND account_id = ?
	`, messageID, account)
	return errors.Wrap(err, "searchindex: delete")
}

// Clear empties the index ahead of a rebuild.
func (ix *Index) Clear(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM message_search`)
	return errors.Wrap(err, "searchindex: clear")
}

// Batch is a single committed-together group of document writes: the
// ingest consumer opens one per pending_ingest batch, per the "commit the
// index writer once per batch" contract, rather than a bare commit per
// document.
type Batch struct {
	tx *sql.Tx
}

// Begin starts a batch. Every write through it commits or rolls back
// together.
func (ix *Index) Begin(ctx context.Context) (*Batch, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "searchindex: begin batch")
	}
	return &Batch{tx: tx}, nil
}

// Upsert stages a document write in the batch.
func (b *Batch) Upsert(ctx context.Context, d Doc) error {
	return upsertDoc(ctx, b.tx, d)
}

// Delete stages a document removal in the batch.
func (b *Batch) Delete(ctx context.Context, account model.AccountID, messageID string) error {
	_, err := b.tx.ExecContext(ctx, `
		DELETE FROM message_search WHERE message_id = ? AND account_id = ?
	`, messageID, account)
	return errors.Wrap(err, "searchindex: batch delete")
}

// Commit commits every write staged in the batch.
func (b *Batch) Commit() error {
	return errors.Wrap(b.tx.Commit(), "searchindex: commit batch")
}

// Rollback aborts the batch. Safe to call after Commit, which makes it a
// no-op.
func (b *Batch) Rollback() error {
	err := b.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
