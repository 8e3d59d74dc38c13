// Package syncengine drives one account's mailbox into the local store: a
// snapshot-or-incremental fetch producer feeding a bounded-concurrency
// ingest consumer, the way outtake's lib/gmail full()/incremental() pair
// splits list-paging from body/metadata download, generalized to a durable
// pending_ingest-backed queue the way gotmuch's internal/sync pullList/
// pullDownload persists discovered IDs before downloading them.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/remote"
	"github.com/hunterclarke/cosmos/lib/searchindex"
	"github.com/hunterclarke/cosmos/lib/storage"
)

// State names one position in the per-account sync state machine.
type State string

const (
	StateIdle              State = "idle"
	StateSnapshotFetching  State = "snapshot_fetching"
	StateSnapshotIngesting State = "snapshot_ingesting"
	StateHistoryFetching   State = "history_fetching"
	StateHistoryIngesting  State = "history_ingesting"
	StateBackoffWaiting    State = "backoff_waiting"
	StateFailed            State = "failed"
)

// Engine runs sync for any number of accounts against one store. Callers
// own concurrency across accounts; Engine itself only guards its own state
// map and relies on storage.DB.Lock to keep two Sync calls for the same
// account from interleaving.
type Engine struct {
	storage *storage.DB
	blobs   *blobstore.Store
	index   *searchindex.Index
	remote  remote.Remote

	// BatchSize is how many pending_ingest rows the consumer resolves per
	// transaction. Default 100.
	BatchSize int
	// Concurrency bounds in-flight GetMessageFull calls per batch. Default 4.
	Concurrency int
	// PendingHighWater pauses the producer once the queue depth exceeds it;
	// PendingLowWater is where it resumes. Defaults 10000 and 2000.
	PendingHighWater int
	PendingLowWater  int
	// MaxOuterAttempts bounds how many times a single Sync call retries a
	// transient failure (network/rate-limit) with backoff before giving up
	// and entering StateFailed. Default 6.
	MaxOuterAttempts int
	// MaxPendingAttempts is the per-message retry ceiling before a pending
	// row is marked permanently failed. Default 5.
	MaxPendingAttempts int

	mu     sync.Mutex
	states map[model.AccountID]State
}

// New constructs an Engine with the teacher's defaults.
func New(db *storage.DB, blobs *blobstore.Store, index *searchindex.Index, rem remote.Remote) *Engine {
	return &Engine{
		storage:            db,
		blobs:              blobs,
		index:              index,
		remote:             rem,
		BatchSize:          100,
		Concurrency:        4,
		PendingHighWater:   10000,
		PendingLowWater:    2000,
		MaxOuterAttempts:   6,
		MaxPendingAttempts: 5,
		states:             make(map[model.AccountID]State),
	}
}

// State returns the account's current state, StateIdle if never synced.
func (e *Engine) State(account model.AccountID) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[account]; ok {
		return s
	}
	return StateIdle
}

func (e *Engine) setState(account model.AccountID, s State) {
	e.mu.Lock()
	e.states[account] = s
	e.mu.Unlock()
}

func isTransient(err error) bool {
	cause := errors.Cause(err)
	return cause == model.ErrNetwork || cause == model.ErrRateLimited
}

// Sync runs one account's sync transition: snapshot if the account has
// never completed one, incremental otherwise, with a History-expired
// response falling back to a fresh snapshot in place, and a transient
// error triggering exponential backoff and retry up to MaxOuterAttempts.
// progress, if non-nil, receives coalesced progress events; Sync closes
// nothing on it. The returned SyncStats accumulate across every attempt,
// including ones later retried after a transient failure.
func (e *Engine) Sync(ctx context.Context, account model.AccountID, progress chan<- model.ProgressEvent) (model.SyncStats, error) {
	unlock := e.storage.Lock(account)
	defer unlock()

	var total model.SyncStats
	delay := backoffStart
	for attempt := 0; attempt < e.MaxOuterAttempts; attempt++ {
		stats, err := e.runOnce(ctx, account, progress)
		total = mergeStats(total, stats)
		if err == nil {
			e.setState(account, StateIdle)
			return total, nil
		}
		if errors.Cause(err) == model.ErrHistoryExpired {
			// The transition table sends this straight back through
			// SnapshotFetching without counting against the retry budget or
			// deleting any data already on disk.
			if rerr := e.resetForSnapshotFallback(ctx, account); rerr != nil {
				e.setState(account, StateFailed)
				return total, rerr
			}
			continue
		}
		if !isTransient(err) {
			e.setState(account, StateFailed)
			return total, err
		}
		e.setState(account, StateBackoffWaiting)
		if !sleepBackoff(ctx, &delay) {
			e.setState(account, StateFailed)
			return total, ctx.Err()
		}
	}
	e.setState(account, StateFailed)
	return total, errors.Errorf("syncengine: account %d: exceeded %d retry attempts", account, e.MaxOuterAttempts)
}

func mergeStats(a, b model.SyncStats) model.SyncStats {
	return model.SyncStats{
		MessagesFetched: a.MessagesFetched + b.MessagesFetched,
		MessagesCreated: a.MessagesCreated + b.MessagesCreated,
		MessagesUpdated: a.MessagesUpdated + b.MessagesUpdated,
		MessagesSkipped: a.MessagesSkipped + b.MessagesSkipped,
		Errors:          a.Errors + b.Errors,
	}
}

func (e *Engine) resetForSnapshotFallback(ctx context.Context, account model.AccountID) error {
	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.ResetForSnapshotFallback(ctx, account); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) runOnce(ctx context.Context, account model.AccountID, progress chan<- model.ProgressEvent) (model.SyncStats, error) {
	st, _, err := e.storage.GetSyncState(ctx, account)
	if err != nil {
		return model.SyncStats{}, err
	}
	if !st.InitialSyncComplete {
		return e.runSnapshot(ctx, account, progress)
	}
	return e.runIncremental(ctx, account, st.HistoryCursor, progress)
}

const (
	backoffStart  = time.Second
	backoffCapped = 2 * time.Minute
)

func sleepBackoff(ctx context.Context, delay *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*delay):
	}
	*delay *= 2
	if *delay > backoffCapped {
		*delay = backoffCapped
	}
	return true
}
