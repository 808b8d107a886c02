package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a streaming session.
type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusLive    SessionStatus = "live"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusLive, StatusPaused, StatusEnded:
		return true
	}
	return false
}

// Active reports whether the status occupies the group-session slot
// (anything but ended).
func (s SessionStatus) Active() bool {
	return s == StatusCreated || s == StatusLive || s == StatusPaused
}

// CanTransition reports whether the edge s -> to is in the allowed set.
// ended is terminal.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case StatusCreated:
		return to == StatusLive || to == StatusEnded
	case StatusLive:
		return to == StatusPaused || to == StatusEnded
	case StatusPaused:
		return to == StatusLive || to == StatusEnded
	}
	return false
}

// StreamQuality is the broadcast quality tier.
type StreamQuality string

const (
	QualitySD StreamQuality = "SD"
	QualityHD StreamQuality = "HD"
	Quality4K StreamQuality = "4K"
)

// Valid reports whether q is a known quality tier.
func (q StreamQuality) Valid() bool {
	return q == QualitySD || q == QualityHD || q == Quality4K
}

// StreamingSession is the live-broadcast instance bound 1:1 to a group session.
// StreamKeyHash stores a bcrypt hash; the plaintext key is returned once at
// creation and never persisted. ViewerCount is an advisory cache, the open
// attendance count is authoritative.
type StreamingSession struct {
	ID             uuid.UUID     `json:"id"`
	GroupSessionID uuid.UUID     `json:"group_session_id"`
	HostID         uuid.UUID     `json:"host_id"`
	StreamKeyHash  string        `json:"-"`
	RoomID         string        `json:"room_id"`
	Title          string        `json:"title"`
	Description    *string       `json:"description,omitempty"`
	MaxViewers     int           `json:"max_viewers"`
	ViewerCount    int           `json:"viewer_count"`
	Quality        StreamQuality `json:"quality"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
