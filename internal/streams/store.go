// Package streams persists streaming sessions and their lifecycle state.
package streams

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
)

// Store is the durable record of streaming sessions. Implementations map
// missing rows to streamerr.ErrNotFound, slot violations to
// streamerr.ErrConflict and infrastructure failures (after bounded retry) to
// streamerr.ErrStorage.
type Store interface {
	// Create inserts a session in created state. Fails with a conflict
	// when the group session already has a non-ended session.
	Create(ctx context.Context, s *models.StreamingSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error)
	GetByRoomID(ctx context.Context, roomID string) (*models.StreamingSession, error)
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.StreamingSession, error)
	// ListByGroupSession returns every session ever created for a group
	// session, newest first, including ended ones.
	ListByGroupSession(ctx context.Context, groupSessionID uuid.UUID) ([]models.StreamingSession, error)
	// ActiveByGroupSession returns the non-ended session occupying the
	// group-session slot, or nil when the slot is free.
	ActiveByGroupSession(ctx context.Context, groupSessionID uuid.UUID) (*models.StreamingSession, error)
	// UpdateStatus performs the compare-and-set transition: the update
	// applies only while the stored status is one of from. A nil
	// startedAt/endedAt leaves the column untouched. Returns the updated
	// session, or a conflict when the precondition no longer holds.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []models.SessionStatus, to models.SessionStatus, startedAt, endedAt *time.Time) (*models.StreamingSession, error)
	// UpdateViewerCount refreshes the advisory cached counter.
	UpdateViewerCount(ctx context.Context, id uuid.UUID, count int) error
	// DeleteByGroupSession removes all sessions for a group session along
	// with their dependent rows. Called by the external session-management
	// service when a group session is deleted.
	DeleteByGroupSession(ctx context.Context, groupSessionID uuid.UUID) error
}
