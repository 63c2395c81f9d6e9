package domain

import "time"

// MessageKind distinguishes transcript entries from input snapshots.
type MessageKind string

const (
	MessageChat           MessageKind = "chat"
	MessageInputsSnapshot MessageKind = "inputs_snapshot"
	MessageSystem         MessageKind = "system"
)

// StoredMessage is one entry of a session's append-only message log.
type StoredMessage struct {
	Seq       int64       `json:"seq"`
	Kind      MessageKind `json:"kind"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}
