package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies a chat message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindEmoji  MessageKind = "emoji"
	KindSystem MessageKind = "system"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindEmoji || k == KindSystem
}

// ChatMessage is one entry in a session's append-only chat feed. Seq is
// assigned by the feed, strictly increasing per session starting at 1;
// messages are immutable once created.
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Seq       int64       `json:"seq"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}
