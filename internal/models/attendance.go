package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerAttendance is one viewer's presence record for a streaming session.
// A single row exists per (session, viewer); rejoining reopens the row and
// watch time accumulates across intervals. An open record has LeftAt == nil.
type ViewerAttendance struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"session_id"`
	UserID       uuid.UUID  `json:"user_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Open reports whether the record is currently attached (no left_at).
func (a *ViewerAttendance) Open() bool {
	return a.LeftAt == nil
}

// WatchInterval is one closed join/leave interval, kept so concurrency
// metrics can be recomputed from history.
type WatchInterval struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
	LeftAt    time.Time `json:"left_at"`
}
