// Package notify defines the typed notification events the coordinator emits
// and the adapters that hand them to the external notifier. Delivery and
// retry are the notifier's responsibility, not the coordinator's.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the notification payload union.
type EventType string

const (
	TypeStreamLive      EventType = "stream_live"
	TypeStreamEnded     EventType = "stream_ended"
	TypeViewerMilestone EventType = "viewer_milestone"
)

// StreamLiveData is the payload for stream_live events.
type StreamLiveData struct {
	SessionID      uuid.UUID `json:"session_id"`
	GroupSessionID uuid.UUID `json:"group_session_id"`
	RoomID         string    `json:"room_id"`
	StartedAt      time.Time `json:"started_at"`
}

// StreamEndedData is the payload for stream_ended events.
type StreamEndedData struct {
	SessionID      uuid.UUID `json:"session_id"`
	GroupSessionID uuid.UUID `json:"group_session_id"`
	EndedAt        time.Time `json:"ended_at"`
	TotalViews     int       `json:"total_views"`
}

// ViewerMilestoneData is the payload for viewer_milestone events, emitted
// when the live viewer count first crosses a configured threshold.
type ViewerMilestoneData struct {
	SessionID uuid.UUID `json:"session_id"`
	Threshold int       `json:"threshold"`
	Count     int       `json:"count"`
}

// Event is one notification: Data holds exactly the variant matching Type.
type Event struct {
	Type    EventType   `json:"type"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Notifier receives events for out-of-band delivery.
type Notifier interface {
	Notify(event Event)
}
