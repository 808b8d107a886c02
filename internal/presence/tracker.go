// Package presence tracks which viewers are attached to a live session and
// accumulates their watch time.
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
)

// Store persists viewer attendance. Implementations map infrastructure
// failures (after bounded retry) to streamerr.ErrStorage.
type Store interface {
	// GetOpen returns the viewer's open attendance for a session, or nil.
	GetOpen(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error)
	// CreateOrReopen inserts an attendance row, or reopens the existing
	// closed row for this (session, viewer): left_at cleared, joined_at
	// reset to at, accumulated watch_seconds kept.
	CreateOrReopen(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error)
	// Close closes the viewer's open attendance at the given instant,
	// folding the interval into watch_seconds and recording it in the
	// interval history. Returns nil without error when no open record
	// exists.
	Close(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error)
	// CloseAll closes every open attendance for a session at the given
	// instant, returning how many were closed.
	CloseAll(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error)
	// CountOpen returns the number of open attendances for a session.
	CountOpen(ctx context.Context, sessionID uuid.UUID) (int, error)
	// History returns all attendance rows and all closed watch intervals
	// for a session.
	History(ctx context.Context, sessionID uuid.UUID) ([]models.ViewerAttendance, []models.WatchInterval, error)
}

// SessionGetter reads current session state; satisfied by streams.Store.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error)
}

// Tracker owns ViewerAttendance writes for sessions the coordinator reports
// as live.
type Tracker struct {
	store    Store
	sessions SessionGetter
	logger   *zap.Logger
}

// NewTracker creates a presence tracker.
func NewTracker(store Store, sessions SessionGetter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, sessions: sessions, logger: logger}
}

// Join attaches a viewer to a live session. Idempotent: a viewer with an
// existing open attendance gets that record back without double counting,
// which tolerates reconnect storms.
func (t *Tracker) Join(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error) {
	session, err := t.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusLive {
		return nil, streamerr.InvalidState("cannot join session in state %s", session.Status)
	}
	if open, err := t.store.GetOpen(ctx, sessionID, userID); err != nil {
		return nil, err
	} else if open != nil {
		return open, nil
	}
	att, err := t.store.CreateOrReopen(ctx, sessionID, userID, time.Now())
	if err != nil {
		return nil, err
	}
	t.logger.Debug("viewer joined",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", userID.String()))
	return att, nil
}

// Open returns the viewer's open attendance for a session, or nil.
func (t *Tracker) Open(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error) {
	return t.store.GetOpen(ctx, sessionID, userID)
}

// Leave detaches a viewer, folding the elapsed interval into watch time.
// A leave with no open attendance is a no-op success, tolerating duplicate
// leave signals from unreliable client networking.
func (t *Tracker) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	att, err := t.store.Close(ctx, sessionID, userID, time.Now())
	if err != nil {
		return err
	}
	if att != nil {
		t.logger.Debug("viewer left",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Int64("watch_seconds", att.WatchSeconds))
	}
	return nil
}

// CurrentCount returns the number of open attendances. Advisory for UI;
// authoritative for the capacity check only at the instant it is read.
func (t *Tracker) CurrentCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return t.store.CountOpen(ctx, sessionID)
}

// ForceCloseAll closes every open attendance at the given instant; used by
// the coordinator when a session ends, with at = ended_at.
func (t *Tracker) ForceCloseAll(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	n, err := t.store.CloseAll(ctx, sessionID, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Info("closed open attendances",
			zap.String("session_id", sessionID.String()),
			zap.Int("count", n))
	}
	return n, nil
}

// History returns all attendance rows and closed watch intervals for rollups.
func (t *Tracker) History(ctx context.Context, sessionID uuid.UUID) ([]models.ViewerAttendance, []models.WatchInterval, error) {
	return t.store.History(ctx, sessionID)
}
