package storage

// Schema, adapted from gotmuch's internal/persist/persist.go: a literal
// CREATE TABLE per logical table, each documented field by field, executed
// once at Open time.
var createTableSQL = []string{
	// accounts holds one row per locally registered mailbox. Rows are
	// created by register_account and never deleted by the core engine.
	`
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_color TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);`,
	// threads holds one row per conversation. Subject, snippet,
	// last_message_at, message_count, sender_name, and sender_email are
	// derived fields: a pure function of the thread's current messages,
	// recomputed inside the same transaction that mutates any of them.
	`
CREATE TABLE IF NOT EXISTS threads (
	id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	last_message_at INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_email TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account_id, id)
);`,
	// messages holds one row per email. body_text_hash/body_html_hash, when
	// non-empty, reference content in the blob store by hex digest.
	// history_id_seen is the remote history ID as of which this row is
	// known current; re-ingest is a no-op when it has not advanced.
	`
CREATE TABLE IF NOT EXISTS messages (
	id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	from_name TEXT NOT NULL DEFAULT '',
	from_email TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	received_at INTEGER NOT NULL DEFAULT 0,
	internal_date INTEGER NOT NULL DEFAULT 0,
	body_preview TEXT NOT NULL DEFAULT '',
	body_text_hash TEXT NOT NULL DEFAULT '',
	body_html_hash TEXT NOT NULL DEFAULT '',
	has_attachment INTEGER NOT NULL DEFAULT 0,
	history_id_seen INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account_id, id)
);`,
	// message_labels is the message<->label edge table. A message's label
	// set here is the source of truth for Thread.is_unread/has_starred.
	`
CREATE TABLE IF NOT EXISTS message_labels (
	message_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	label_id TEXT NOT NULL,
	PRIMARY KEY (account_id, message_id, label_id)
);`,
	// message_recipients is the message<->address edge table for To/Cc,
	// ordered by position so display order is preserved.
	`
CREATE TABLE IF NOT EXISTS message_recipients (
	message_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (account_id, message_id, kind, position)
);`,
	// sync_state holds exactly one row per account: the cursor the next
	// incremental sync resumes from, and whether the initial snapshot has
	// ever completed. Monotone on success.
	`
CREATE TABLE IF NOT EXISTS sync_state (
	account_id INTEGER PRIMARY KEY,
	history_cursor INTEGER NOT NULL DEFAULT 0,
	last_sync_at INTEGER NOT NULL DEFAULT 0,
	initial_sync_complete INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0
);`,
	// pending_ingest is the durable FIFO (by enqueued_at) feeding the
	// ingest consumer. A row is removed once its message is durably
	// persisted and indexed, or stamped failed_at after exceeding the
	// configured attempt ceiling.
	`
CREATE TABLE IF NOT EXISTS pending_ingest (
	remote_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	enqueued_at INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	failed_at INTEGER,
	PRIMARY KEY (account_id, remote_id)
);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (account_id, thread_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_account_received ON messages (account_id, received_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_message_labels_label ON message_labels (account_id, label_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_history ON messages (account_id, history_id_seen);`,
	`CREATE INDEX IF NOT EXISTS idx_pending_ingest_order ON pending_ingest (account_id, enqueued_at);`,
}
