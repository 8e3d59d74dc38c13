package model

// RawMessage is what the remote adapter returns for a single message: enough
// to populate a Message row plus the blob-stored body text, with defensive
// defaults: missing headers become the zero value, never an error.
type RawMessage struct {
	RemoteID       string
	ThreadRemoteID string
	Labels         []LabelID
	From           EmailAddress
	To             []EmailAddress
	CC             []EmailAddress
	Subject        string
	ReceivedAt     int64 // Unix ms, from the Date header.
	InternalDate   int64 // Unix ms, as reported by the remote.
	HistoryID      uint64
	BodyText       string
	BodyHTML       string
	HasAttachment  bool
}

// HistoryEventType is the kind of change list_history reports for a message.
type HistoryEventType string

const (
	HistoryAdded         HistoryEventType = "added"
	HistoryLabelsChanged HistoryEventType = "labelsChanged"
	HistoryDeleted       HistoryEventType = "deleted"
)

// HistoryEvent is one entry from list_history: a message that was added,
// relabeled, or deleted since a given cursor.
type HistoryEvent struct {
	Type          HistoryEventType
	MessageID     string
	ThreadID      string
	LabelsAdded   []LabelID
	LabelsRemoved []LabelID
}
