package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
)

type stubSessions struct {
	session *models.StreamingSession
}

func (s *stubSessions) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	if s.session == nil || s.session.ID != id {
		return nil, streamerr.NotFound("session %s", id)
	}
	cp := *s.session
	return &cp, nil
}

func liveSession() *models.StreamingSession {
	return &models.StreamingSession{ID: uuid.New(), Status: models.StatusLive}
}

func TestWatchTimeAccumulation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID, userID := uuid.New(), uuid.New()
	t0 := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	if _, err := store.CreateOrReopen(ctx, sessionID, userID, t0); err != nil {
		t.Fatalf("open: %v", err)
	}
	att, err := store.Close(ctx, sessionID, userID, t0.Add(90*time.Second))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if att.WatchSeconds != 90 {
		t.Fatalf("watch_seconds = %d, want 90", att.WatchSeconds)
	}

	// Reopen keeps the accumulated total and a second interval adds to it.
	if _, err := store.CreateOrReopen(ctx, sessionID, userID, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	att, err = store.Close(ctx, sessionID, userID, t0.Add(5*time.Minute+30*time.Second))
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if att.WatchSeconds != 120 {
		t.Fatalf("watch_seconds = %d after reopen, want 120", att.WatchSeconds)
	}

	atts, intervals, err := store.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("attendance rows = %d, want 1 per (session, viewer)", len(atts))
	}
	if len(intervals) != 2 {
		t.Fatalf("intervals = %d, want 2", len(intervals))
	}
}

func TestCloseAppliesFullyExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID, userID := uuid.New(), uuid.New()
	t0 := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	if _, err := store.CreateOrReopen(ctx, sessionID, userID, t0); err != nil {
		t.Fatalf("open: %v", err)
	}
	att, err := store.Close(ctx, sessionID, userID, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if att == nil || att.WatchSeconds != 60 {
		t.Fatalf("close returned %+v, want 60 watch seconds", att)
	}
	_, intervals, err := store.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("intervals = %d after close, want 1", len(intervals))
	}

	// A second close of the same record is inert: no open row, no extra
	// interval, no extra watch time.
	att, err = store.Close(ctx, sessionID, userID, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("duplicate close: %v", err)
	}
	if att != nil {
		t.Fatalf("duplicate close returned %+v, want nil", att)
	}
	atts, intervals, _ := store.History(ctx, sessionID)
	if len(intervals) != 1 {
		t.Fatalf("intervals = %d after duplicate close, want 1", len(intervals))
	}
	if len(atts) != 1 || atts[0].WatchSeconds != 60 {
		t.Fatalf("attendance = %+v after duplicate close, want single row with 60s", atts)
	}
}

func TestCloseAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()
	t0 := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	store.CreateOrReopen(ctx, sessionID, uuid.New(), t0)
	store.CreateOrReopen(ctx, sessionID, uuid.New(), t0)
	closedViewer := uuid.New()
	store.CreateOrReopen(ctx, sessionID, closedViewer, t0)
	store.Close(ctx, sessionID, closedViewer, t0.Add(time.Minute))

	endedAt := t0.Add(10 * time.Minute)
	n, err := store.CloseAll(ctx, sessionID, endedAt)
	if err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("closed %d, want 2", n)
	}
	count, _ := store.CountOpen(ctx, sessionID)
	if count != 0 {
		t.Fatalf("open count = %d after CloseAll, want 0", count)
	}

	atts, _, _ := store.History(ctx, sessionID)
	for _, att := range atts {
		if att.UserID == closedViewer {
			continue
		}
		if att.LeftAt == nil || !att.LeftAt.Equal(endedAt) {
			t.Fatalf("left_at = %v, want %v", att.LeftAt, endedAt)
		}
	}
}

func TestTrackerJoinRequiresLive(t *testing.T) {
	session := liveSession()
	session.Status = models.StatusPaused
	tracker := NewTracker(NewMemoryStore(), &stubSessions{session: session}, nil)

	_, err := tracker.Join(context.Background(), session.ID, uuid.New())
	if !errors.Is(err, streamerr.ErrInvalidState) {
		t.Fatalf("join paused: %v, want ErrInvalidState", err)
	}
}

func TestTrackerJoinIdempotent(t *testing.T) {
	session := liveSession()
	tracker := NewTracker(NewMemoryStore(), &stubSessions{session: session}, nil)
	ctx := context.Background()
	viewer := uuid.New()

	first, err := tracker.Join(ctx, session.ID, viewer)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := tracker.Join(ctx, session.ID, viewer)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if first.ID != second.ID || !first.JoinedAt.Equal(second.JoinedAt) {
		t.Fatal("rejoin did not return the existing open attendance")
	}
	count, _ := tracker.CurrentCount(ctx, session.ID)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestTrackerLeaveWithoutOpenIsNoop(t *testing.T) {
	session := liveSession()
	tracker := NewTracker(NewMemoryStore(), &stubSessions{session: session}, nil)
	ctx := context.Background()
	viewer := uuid.New()

	if err := tracker.Leave(ctx, session.ID, viewer); err != nil {
		t.Fatalf("leave without join: %v", err)
	}

	// Leave, then leave again.
	if _, err := tracker.Join(ctx, session.ID, viewer); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := tracker.Leave(ctx, session.ID, viewer); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := tracker.Leave(ctx, session.ID, viewer); err != nil {
		t.Fatalf("duplicate leave: %v", err)
	}
}
