// Package actions implements the thread-scoped user intents: archive,
// trash, mark read/unread, toggle star, apply arbitrary labels. Each is an
// optimistic local mutation followed by a remote modify_labels call, with
// the local mutation rolled back and re-indexed if the remote call fails.
// No direct donor in the pack has this shape (none of the five repos
// mutates mail state); the transaction/rollback plumbing is adapted from
// lib/storage's own Tx wrapper, with errors.Wrap at each boundary per
// gotmuch's convention.
package actions

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/remote"
	"github.com/hunterclarke/cosmos/lib/searchindex"
	"github.com/hunterclarke/cosmos/lib/storage"
)

// Actions applies label-delta user intents against a thread, keeping the
// relational store, search index, and remote mailbox in agreement.
type Actions struct {
	storage *storage.DB
	blobs   *blobstore.Store
	index   *searchindex.Index
	remote  remote.Remote
}

func New(db *storage.DB, blobs *blobstore.Store, index *searchindex.Index, rem remote.Remote) *Actions {
	return &Actions{storage: db, blobs: blobs, index: index, remote: rem}
}

// delta is the label change computed for a thread, applied identically to
// every message in it.
type delta struct {
	add    []model.LabelID
	remove []model.LabelID
}

func (d delta) empty() bool {
	return len(d.add) == 0 && len(d.remove) == 0
}

// Archive removes INBOX from every message in the thread.
func (a *Actions) Archive(ctx context.Context, account model.AccountID, threadID string) error {
	return a.apply(ctx, account, threadID, delta{remove: []model.LabelID{model.LabelInbox}})
}

// Trash adds TRASH and removes INBOX from every message in the thread.
func (a *Actions) Trash(ctx context.Context, account model.AccountID, threadID string) error {
	return a.apply(ctx, account, threadID, delta{
		add:    []model.LabelID{model.LabelTrash},
		remove: []model.LabelID{model.LabelInbox},
	})
}

// SetRead marks every message in the thread read (true) or unread (false).
func (a *Actions) SetRead(ctx context.Context, account model.AccountID, threadID string, read bool) error {
	if read {
		return a.apply(ctx, account, threadID, delta{remove: []model.LabelID{model.LabelUnread}})
	}
	return a.apply(ctx, account, threadID, delta{add: []model.LabelID{model.LabelUnread}})
}

// ToggleStar stars the thread if no message in it is currently starred,
// else unstars every message. Returns the new starred state.
func (a *Actions) ToggleStar(ctx context.Context, account model.AccountID, threadID string) (starred bool, err error) {
	unlock := a.storage.Lock(account)
	defer unlock()

	msgs, err := a.currentMessages(ctx, account, threadID)
	if err != nil {
		return false, err
	}
	starred = anyStarred(msgs)
	d := delta{remove: []model.LabelID{model.LabelStarred}}
	if !starred {
		d = delta{add: []model.LabelID{model.LabelStarred}}
	}
	if err := a.applyLocked(ctx, account, threadID, msgs, d); err != nil {
		return false, err
	}
	return !starred, nil
}

// ApplyLabels adds/removes an arbitrary set of labels on every message in
// the thread.
func (a *Actions) ApplyLabels(ctx context.Context, account model.AccountID, threadID string, add, remove []model.LabelID) error {
	return a.apply(ctx, account, threadID, delta{add: add, remove: remove})
}

func anyStarred(msgs []model.Message) bool {
	for _, m := range msgs {
		if m.HasLabel(model.LabelStarred) {
			return true
		}
	}
	return false
}

// apply serializes against the account's advisory lock and runs the
// optimistic-write-then-reconcile protocol: compute the delta against
// current state, commit it locally and to the index, call the remote, and
// on remote failure revert the local write and propagate the error.
func (a *Actions) apply(ctx context.Context, account model.AccountID, threadID string, d delta) error {
	unlock := a.storage.Lock(account)
	defer unlock()

	msgs, err := a.currentMessages(ctx, account, threadID)
	if err != nil {
		return err
	}
	return a.applyLocked(ctx, account, threadID, msgs, d)
}

func (a *Actions) applyLocked(ctx context.Context, account model.AccountID, threadID string, msgs []model.Message, d delta) error {
	if d.empty() {
		return nil
	}

	if err := a.writeDelta(ctx, account, msgs, d); err != nil {
		return errors.Wrap(err, "actions: apply local delta")
	}

	if err := a.remote.ModifyLabels(ctx, account, threadID, d.add, d.remove); err != nil {
		if rerr := a.writeDelta(ctx, account, msgs, invert(d)); rerr != nil {
			return errors.Wrapf(rerr, "actions: reconcile after remote failure (original error: %v)", err)
		}
		return errors.Wrap(err, "actions: modify_labels")
	}
	return nil
}

// invert swaps add/remove so re-applying a delta undoes it, used to revert
// the local write when the remote call fails.
func invert(d delta) delta {
	return delta{add: d.remove, remove: d.add}
}

func (a *Actions) currentMessages(ctx context.Context, account model.AccountID, threadID string) ([]model.Message, error) {
	tx, err := a.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	msgs, err := tx.MessagesForThread(ctx, account, threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, model.ErrNotFound
	}
	return msgs, nil
}

// writeDelta applies one delta to every message's label set, in one
// transaction and one search-index batch, committed together.
func (a *Actions) writeDelta(ctx context.Context, account model.AccountID, msgs []model.Message, d delta) error {
	tx, err := a.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	batch, err := a.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback()

	for _, m := range msgs {
		labels := applyDelta(m.Labels, d)
		if err := tx.ReplaceMessageLabels(ctx, account, m.ID, labels); err != nil {
			return err
		}
		m.Labels = labels
		bodyText, err := a.bodyText(m.BodyTextHash)
		if err != nil {
			return err
		}
		if err := batch.Upsert(ctx, searchindex.DocFromMessage(account, m, m.BodyPreview, bodyText)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return batch.Commit()
}

// bodyText loads a message's stored plain-text body so a label-only
// re-index doesn't blank out its free-text search match. Empty hash (no
// text body) is not an error.
func (a *Actions) bodyText(hash string) (string, error) {
	if hash == "" {
		return "", nil
	}
	h, err := blobstore.ParseHash(hash)
	if err != nil {
		return "", errors.Wrap(err, "actions: parse body hash")
	}
	payload, err := a.blobs.Get(h)
	if err != nil {
		return "", errors.Wrap(err, "actions: load body text")
	}
	return string(payload), nil
}

func applyDelta(labels map[model.LabelID]struct{}, d delta) map[model.LabelID]struct{} {
	out := make(map[model.LabelID]struct{}, len(labels)+len(d.add))
	for l := range labels {
		out[l] = struct{}{}
	}
	for _, l := range d.remove {
		delete(out, l)
	}
	for _, l := range d.add {
		out[l] = struct{}{}
	}
	return out
}
