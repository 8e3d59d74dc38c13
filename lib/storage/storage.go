// Package storage implements the engine's relational store: threads,
// messages, sync state, the thread<->message and message<->label edges, and
// the durable pending-ingest queue. Adapted from gotmuch's
// internal/persist/persist.go — a thin typed DB/Tx wrapper over
// database/sql, table-per-CREATE-TABLE schema literals, errors.Wrap at
// every step — generalized from gotmuch's single gmail_messages table to a
// full multi-table schema, and extended with a per-account advisory lock to
// keep two sync runs for the same account from interleaving.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// DB is a handle to the relational store. One DB is created per facade and
// shared by every account it serves; writers are serialized per account via
// Lock, and SQLite itself serializes writers across the whole file.
type DB struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[model.AccountID]*sync.Mutex
}

// Tx is a single serializable transaction, required for every multi-row
// update.
type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	values.Set("_busy_timeout", fmt.Sprintf("%d", int(5*time.Minute/time.Millisecond)))
	values.Set("_foreign_keys", "true")
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn, err := dsnFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open(%q): bad dsn", path)
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open(%q)", path)
	}
	// The relational store has exactly one writer; a single connection
	// avoids SQLITE_BUSY from this process fighting itself.
	sqlDB.SetMaxOpenConns(1)
	if err := initSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "storage: open(%q): schema", path)
	}
	return &DB{db: sqlDB, locks: make(map[model.AccountID]*sync.Mutex)}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createTableSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "executing %q", stmt)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Lock acquires the advisory lock for account, returning a function that
// releases it. Every mutation for a given account is totally ordered behind
// this lock.
func (d *DB) Lock(account model.AccountID) func() {
	d.mu.Lock()
	l, ok := d.locks[account]
	if !ok {
		l = &sync.Mutex{}
		d.locks[account] = l
	}
	d.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Begin starts a serializable transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Wrap(err, "storage: begin")
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return errors.Wrap(t.tx.Commit(), "storage: commit")
}

// Rollback aborts the transaction. Safe to call after a successful Commit
// (it is then a no-op), so callers can always `defer tx.Rollback()`.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
