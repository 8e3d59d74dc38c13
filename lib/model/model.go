// Package model defines the plain value types shared by every layer of the
// mail engine: accounts, threads, messages, labels, and the bookkeeping
// records the sync engine uses to track progress. Nothing in this package
// has behavior beyond small derived-field helpers; it exists so that
// storage, search, sync, and the facade all agree on one shape for each
// entity.
package model

import "time"

// AccountID identifies a locally registered account. Accounts are never
// reused across removal/re-registration within a single store lifetime.
type AccountID uint64

// LabelID is an opaque tag on a message. System labels have the well-known
// values below; anything else is a user-defined label.
type LabelID string

// System labels, mirroring the Gmail label vocabulary the remote adapter
// speaks natively.
const (
	LabelInbox     LabelID = "INBOX"
	LabelSent      LabelID = "SENT"
	LabelDraft     LabelID = "DRAFT"
	LabelTrash     LabelID = "TRASH"
	LabelSpam      LabelID = "SPAM"
	LabelStarred   LabelID = "STARRED"
	LabelImportant LabelID = "IMPORTANT"
	LabelUnread    LabelID = "UNREAD"
	LabelAll       LabelID = "ALL"
)

// LabelType distinguishes system labels (fixed semantics, present in every
// account) from user-created ones. Mirrors the Gmail labels.list "type"
// field.
type LabelType string

const (
	LabelTypeSystem LabelType = "system"
	LabelTypeUser   LabelType = "user"
)

// Label is a label as reported by the remote adapter's list_labels call.
type Label struct {
	ID     LabelID
	Name   string
	Type   LabelType
	Total  int
	Unread int
}

// Account is a locally registered mailbox. Created by register_account;
// never mutated after registration except display fields.
type Account struct {
	ID          AccountID
	Email       string
	DisplayName string
	AvatarColor string
	CreatedAt   time.Time
}

// EmailAddress is a lenient from/to/cc participant. A header that fails to
// split into name and address degrades to Name: "" and Email: the raw
// header value, never an error.
type EmailAddress struct {
	Name  string
	Email string
}

// Thread is a conversation: an ordered set of messages sharing a remote
// thread identifier. IsUnread and HasStarred are derived from the labels on
// the thread's current messages and recomputed whenever any of them change.
type Thread struct {
	ID            string
	AccountID     AccountID
	Subject       string
	Snippet       string
	LastMessageAt time.Time
	MessageCount  int
	SenderName    string
	SenderEmail   string
	IsUnread      bool
	HasStarred    bool
}

// Message is a single email. BodyTextHash/BodyHTMLHash, when non-empty,
// reference content in the blob store. LabelIDs is the source of truth for
// a message's read/starred/mailbox state; Thread derived fields are a pure
// function of the label sets of a thread's messages.
type Message struct {
	ID            string
	ThreadID      string
	AccountID     AccountID
	From          EmailAddress
	To            []EmailAddress
	CC            []EmailAddress
	Subject       string
	ReceivedAt    time.Time
	InternalDate  int64
	BodyPreview   string
	BodyTextHash  string
	BodyHTMLHash  string
	HasAttachment bool
	Labels        map[LabelID]struct{}
	HistoryIDSeen uint64
}

// HasLabel reports whether the message currently carries the given label.
func (m *Message) HasLabel(l LabelID) bool {
	_, ok := m.Labels[l]
	return ok
}

// SyncState tracks one account's progress through the sync state machine.
// Exactly one row exists per account.
type SyncState struct {
	AccountID           AccountID
	HistoryCursor       uint64
	LastSyncAt          time.Time
	InitialSyncComplete bool
	SyncVersion         uint32
}

// PendingMessage is one entry in the durable ingest queue: a remote message
// ID discovered by the producer and not yet resolved by the consumer.
type PendingMessage struct {
	RemoteID   string
	AccountID  AccountID
	EnqueuedAt time.Time
	Attempts   int
	FailedAt   *time.Time
}

// Blob is a content-addressed, compressed byte string. Hash is the digest
// of the uncompressed payload; Length is the uncompressed length.
type Blob struct {
	Hash            [32]byte
	Length          int
	CompressedBytes []byte
}

// SyncStats summarizes the outcome of a sync run, reflecting partial
// success: a run can create some messages, update others, skip malformed
// ones, and still return a nil error.
type SyncStats struct {
	MessagesFetched int
	MessagesCreated int
	MessagesUpdated int
	MessagesSkipped int
	Errors          int
}

// ThreadSummary is the list_threads / search projection of a Thread.
type ThreadSummary struct {
	Thread
}

// ThreadDetail is the get_thread_detail projection: the thread plus its
// messages in received order.
type ThreadDetail struct {
	Thread
	Messages []Message
}

// Highlight is a character range over one stored search field, used to
// render match context in host UIs.
type Highlight struct {
	Field string
	Start int
	End   int
}

// SearchResult is one hit from the search index, already joined back to its
// thread summary.
type SearchResult struct {
	ThreadSummary
	MessageID  string
	Score      float64
	Highlights []Highlight
}

// BatchResult summarizes one process_pending_batch call.
type BatchResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Remaining int
}

// SyncPhase names one stage of an account's sync run.
type SyncPhase string

const (
	PhaseSnapshotFetch  SyncPhase = "snapshot_fetch"
	PhaseSnapshotIngest SyncPhase = "snapshot_ingest"
	PhaseHistoryFetch   SyncPhase = "history_fetch"
	PhaseHistoryIngest  SyncPhase = "history_ingest"
)

// ProgressEvent is one coalesced progress update, delivered on the
// facade's shared event channel. Total is 0 when the engine cannot yet
// estimate the size of the current phase.
type ProgressEvent struct {
	AccountID AccountID
	Phase     SyncPhase
	Fetched   int
	Processed int
	Total     int
}
