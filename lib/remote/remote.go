// Package remote implements the stateless remote-adapter surface the sync
// engine drives, concretely against the Gmail API, the way outtake's
// lib/gmail and gotmuch's internal/gmail both speak to the same service.
// Every call takes an explicit bearer token; retry, rate limiting, and 401
// refresh are handled here so the sync engine never deals with HTTP
// directly.
package remote

import (
	"context"

	"github.com/hunterclarke/cosmos/lib/model"
)

// Remote is the narrow capability interface the engine depends on. All
// calls are synchronous and blocking; concurrency is the caller's
// responsibility.
type Remote interface {
	// ListMessageIDs pages the message list for an account, returning the
	// next page token (empty when exhausted) and the history cursor the
	// profile reported as of this call.
	ListMessageIDs(ctx context.Context, account model.AccountID, pageToken string) (ids []string, nextPageToken string, historyCursor uint64, err error)

	// GetMessageFull fetches headers, labels, part tree, and internal date
	// for one message.
	GetMessageFull(ctx context.Context, account model.AccountID, remoteID string) (model.RawMessage, error)

	// ListHistory pages history entries since a cursor. Returns
	// model.ErrHistoryExpired (wrapped) when the server no longer has
	// history that old, signaling the caller to fall back to a snapshot.
	ListHistory(ctx context.Context, account model.AccountID, sinceCursor uint64, pageToken string) (events []model.HistoryEvent, nextPageToken string, newCursor uint64, err error)

	// ListLabels returns every label known to the account with its current
	// message/unread totals.
	ListLabels(ctx context.Context, account model.AccountID) ([]model.Label, error)

	// ModifyLabels adds/removes labels on a message or thread.
	ModifyLabels(ctx context.Context, account model.AccountID, messageOrThreadID string, add, remove []model.LabelID) error
}
