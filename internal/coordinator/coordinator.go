// Package coordinator orchestrates streaming session lifecycle transitions
// and is the single entry point for viewers, chat senders, the host and the
// media pipeline.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/analytics"
	"github.com/pulsefit/livestream/internal/chat"
	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/notify"
	"github.com/pulsefit/livestream/internal/presence"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/internal/streams"
	"github.com/pulsefit/livestream/pkg/queue"
)

// RollupEnqueuer schedules an asynchronous rollup refresh; satisfied by
// pkg/queue.Queue. May be nil for queue-less deployments.
type RollupEnqueuer interface {
	EnqueueRollup(ctx context.Context, payload queue.RollupPayload) error
}

// CreateParams are the host-supplied fields for a new streaming session.
type CreateParams struct {
	GroupSessionID uuid.UUID
	HostID         uuid.UUID
	Title          string
	Description    *string
	MaxViewers     int
	Quality        models.StreamQuality
}

// Coordinator validates requests against current session state, mutates the
// stores and emits side-effect events. All mutating operations on one
// session id hold that session's lock, so validation and commit are atomic
// per session.
type Coordinator struct {
	store      streams.Store
	presence   *presence.Tracker
	feed       *chat.Feed
	aggregator *analytics.Aggregator
	notifier   notify.Notifier
	rollups    RollupEnqueuer
	logger     *zap.Logger

	locks *sessionLocks

	// milestones are viewer-count thresholds that trigger one
	// notification each per session.
	milestones    []int
	milestonesMu  sync.Mutex
	milestonesHit map[uuid.UUID]map[int]bool
}

// New creates a coordinator. notifier and rollups may be nil.
func New(store streams.Store, tracker *presence.Tracker, feed *chat.Feed, aggregator *analytics.Aggregator, notifier notify.Notifier, rollups RollupEnqueuer, milestones []int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:         store,
		presence:      tracker,
		feed:          feed,
		aggregator:    aggregator,
		notifier:      notifier,
		rollups:       rollups,
		logger:        logger,
		locks:         newSessionLocks(),
		milestones:    milestones,
		milestonesHit: make(map[uuid.UUID]map[int]bool),
	}
}

// CreateSession issues stream credentials and persists the session in
// created state. The plaintext stream key is returned exactly once; only
// its hash is stored. Fails with a conflict when the group session already
// has a non-ended stream.
func (c *Coordinator) CreateSession(ctx context.Context, p CreateParams) (*models.StreamingSession, string, error) {
	if p.Title == "" {
		return nil, "", streamerr.InvalidState("title is required")
	}
	if !p.Quality.Valid() {
		return nil, "", streamerr.InvalidState("unknown quality tier %q", p.Quality)
	}
	if p.MaxViewers <= 0 {
		return nil, "", streamerr.InvalidState("max_viewers must be positive")
	}

	key := NewStreamKey()
	hash, err := HashStreamKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("hash stream key: %w", err)
	}
	session := &models.StreamingSession{
		GroupSessionID: p.GroupSessionID,
		HostID:         p.HostID,
		StreamKeyHash:  hash,
		RoomID:         NewRoomID(),
		Title:          p.Title,
		Description:    p.Description,
		MaxViewers:     p.MaxViewers,
		Quality:        p.Quality,
	}
	if err := c.store.Create(ctx, session); err != nil {
		return nil, "", err
	}
	c.logger.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("group_session_id", p.GroupSessionID.String()),
		zap.String("room_id", session.RoomID))
	return session, key, nil
}

// Get returns a session by id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	return c.store.GetByID(ctx, id)
}

// ListByStatus lists sessions in one lifecycle state.
func (c *Coordinator) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.StreamingSession, error) {
	if !status.Valid() {
		return nil, streamerr.InvalidState("unknown status %q", status)
	}
	return c.store.ListByStatus(ctx, status)
}

// ListByGroupSession lists a group session's stream history, ended ones
// included.
func (c *Coordinator) ListByGroupSession(ctx context.Context, groupSessionID uuid.UUID) ([]models.StreamingSession, error) {
	return c.store.ListByGroupSession(ctx, groupSessionID)
}

// Start transitions created -> live: sets started_at and announces the
// stream. Fails with a conflict if another session occupies the
// group-session slot in a non-ended state.
func (c *Coordinator) Start(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	mu := c.locks.get(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusCreated {
		return nil, streamerr.InvalidTransition("cannot start from %s", session.Status)
	}
	if active, err := c.store.ActiveByGroupSession(ctx, session.GroupSessionID); err != nil {
		return nil, err
	} else if active != nil && active.ID != id {
		return nil, streamerr.Conflict("group session %s slot is occupied by session %s", session.GroupSessionID, active.ID)
	}

	now := time.Now()
	updated, err := c.store.UpdateStatus(ctx, id, []models.SessionStatus{models.StatusCreated}, models.StatusLive, &now, nil)
	if err != nil {
		return nil, err
	}

	c.logger.Info("stream started",
		zap.String("session_id", id.String()),
		zap.String("room_id", updated.RoomID))
	c.notify(notify.Event{
		Type:    notify.TypeStreamLive,
		Title:   updated.Title,
		Message: "Live stream has started",
		Data: notify.StreamLiveData{
			SessionID:      updated.ID,
			GroupSessionID: updated.GroupSessionID,
			RoomID:         updated.RoomID,
			StartedAt:      now,
		},
	})
	return updated, nil
}

// Pause transitions live -> paused. No timestamp side effects; the audit
// trail is the log entry.
func (c *Coordinator) Pause(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	return c.flip(ctx, id, models.StatusLive, models.StatusPaused, "stream paused")
}

// Resume transitions paused -> live.
func (c *Coordinator) Resume(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	return c.flip(ctx, id, models.StatusPaused, models.StatusLive, "stream resumed")
}

func (c *Coordinator) flip(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, audit string) (*models.StreamingSession, error) {
	mu := c.locks.get(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != from {
		return nil, streamerr.InvalidTransition("cannot go %s -> %s", session.Status, to)
	}
	updated, err := c.store.UpdateStatus(ctx, id, []models.SessionStatus{from}, to, nil, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info(audit, zap.String("session_id", id.String()))
	return updated, nil
}

// End transitions created|live|paused -> ended: sets ended_at, force-closes
// all open attendances with left_at = ended_at and runs the final analytics
// rollup. Terminal; no transition leaves ended. Ending a created session
// (cancelled before going live) skips the attendance close.
func (c *Coordinator) End(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	mu := c.locks.get(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransition(models.StatusEnded) {
		return nil, streamerr.InvalidTransition("cannot end from %s", session.Status)
	}
	wasLive := session.Status != models.StatusCreated

	now := time.Now()
	updated, err := c.store.UpdateStatus(ctx, id,
		[]models.SessionStatus{models.StatusCreated, models.StatusLive, models.StatusPaused},
		models.StatusEnded, nil, &now)
	if err != nil {
		return nil, err
	}

	totalViews := 0
	if wasLive {
		if _, err := c.presence.ForceCloseAll(ctx, id, now); err != nil {
			return nil, err
		}
		final, err := c.aggregator.Rollup(ctx, id)
		if err != nil {
			return nil, err
		}
		totalViews = final.TotalViews
		if err := c.store.UpdateViewerCount(ctx, id, 0); err != nil {
			c.logger.Warn("reset viewer count", zap.Error(err), zap.String("session_id", id.String()))
		}
		if c.rollups != nil {
			if err := c.rollups.EnqueueRollup(ctx, queue.RollupPayload{SessionID: id, Final: true}); err != nil {
				c.logger.Warn("enqueue final rollup", zap.Error(err), zap.String("session_id", id.String()))
			}
		}
	}

	c.logger.Info("stream ended",
		zap.String("session_id", id.String()),
		zap.Bool("was_live", wasLive))
	c.notify(notify.Event{
		Type:    notify.TypeStreamEnded,
		Title:   updated.Title,
		Message: "Live stream has ended",
		Data: notify.StreamEndedData{
			SessionID:      updated.ID,
			GroupSessionID: updated.GroupSessionID,
			EndedAt:        now,
			TotalViews:     totalViews,
		},
	})

	c.milestonesMu.Lock()
	delete(c.milestonesHit, id)
	c.milestonesMu.Unlock()
	c.locks.drop(id)
	return updated, nil
}

// Join admits a viewer to a live session. A viewer with an existing open
// attendance is readmitted idempotently regardless of the cap; otherwise the
// open-attendance count at admission time enforces max_viewers. The cap is a
// soft limit: joins racing on another instance can transiently overshoot by
// a small margin.
func (c *Coordinator) Join(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error) {
	mu := c.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := c.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusLive {
		return nil, streamerr.InvalidState("cannot join session in state %s", session.Status)
	}

	count, err := c.presence.CurrentCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if count >= session.MaxViewers {
		open, err := c.presence.Open(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if open == nil {
			return nil, streamerr.CapacityExceeded("session %s is full (%d/%d viewers)", sessionID, count, session.MaxViewers)
		}
		// Idempotent rejoin; the viewer already holds a seat.
		return open, nil
	}

	att, err := c.presence.Join(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	newCount, err := c.presence.CurrentCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateViewerCount(ctx, sessionID, newCount); err != nil {
		c.logger.Warn("refresh viewer count", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	c.checkMilestones(sessionID, session.Title, newCount)
	return att, nil
}

// Leave detaches a viewer; duplicate leaves are no-op successes.
func (c *Coordinator) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	mu := c.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := c.store.GetByID(ctx, sessionID); err != nil {
		return err
	}
	if err := c.presence.Leave(ctx, sessionID, userID); err != nil {
		return err
	}
	count, err := c.presence.CurrentCount(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := c.store.UpdateViewerCount(ctx, sessionID, count); err != nil {
		c.logger.Warn("refresh viewer count", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	return nil
}

// CurrentCount returns the open-attendance count for a session. Advisory
// for UI; may be stale relative to the latest write.
func (c *Coordinator) CurrentCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	if _, err := c.store.GetByID(ctx, sessionID); err != nil {
		return 0, err
	}
	return c.presence.CurrentCount(ctx, sessionID)
}

// PostChat appends a chat message under the session lock so posts serialize
// with lifecycle transitions.
func (c *Coordinator) PostChat(ctx context.Context, sessionID, userID uuid.UUID, body string, kind models.MessageKind) (*models.ChatMessage, error) {
	mu := c.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return c.feed.Post(ctx, sessionID, userID, body, kind)
}

// ChatSince reads the chat feed from a sequence cursor; concurrent with
// writes, snapshot-consistent.
func (c *Coordinator) ChatSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	return c.feed.Since(ctx, sessionID, afterSeq, limit)
}

// ChatLatest reads the tail of the chat feed for subscribers without a
// resume cursor.
func (c *Coordinator) ChatLatest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	return c.feed.Latest(ctx, sessionID, limit)
}

// Rollup computes a snapshot rollup for a session. The coordinator treats
// only the rollup triggered by End as final.
func (c *Coordinator) Rollup(ctx context.Context, sessionID uuid.UUID) (*models.RollupResult, error) {
	if _, err := c.store.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.aggregator.Rollup(ctx, sessionID)
}

// LatestMetrics returns the most recent sample per metric.
func (c *Coordinator) LatestMetrics(ctx context.Context, sessionID uuid.UUID) (map[string]models.AnalyticsSample, error) {
	if _, err := c.store.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.aggregator.Latest(ctx, sessionID)
}

// MetricSeries returns the full sample history of one metric, oldest first,
// for charting a session's trajectory.
func (c *Coordinator) MetricSeries(ctx context.Context, sessionID uuid.UUID, metric string) ([]models.AnalyticsSample, error) {
	switch metric {
	case models.MetricPeakViewers, models.MetricTotalViews, models.MetricAvgWatchTime:
	default:
		return nil, streamerr.InvalidState("unknown metric %q", metric)
	}
	if _, err := c.store.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.aggregator.Series(ctx, sessionID, metric)
}

// VerifyStreamKey authenticates a media pipeline publish attempt against the
// stored key hash. Returns the session on success.
func (c *Coordinator) VerifyStreamKey(ctx context.Context, roomID, key string) (*models.StreamingSession, error) {
	session, err := c.store.GetByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !CheckStreamKey(key, session.StreamKeyHash) {
		return nil, streamerr.NotFound("stream key does not match room %s", roomID)
	}
	return session, nil
}

func (c *Coordinator) notify(event notify.Event) {
	if c.notifier != nil {
		c.notifier.Notify(event)
	}
}

// checkMilestones emits one viewer_milestone notification per threshold per
// session, the first time the live count reaches it.
func (c *Coordinator) checkMilestones(sessionID uuid.UUID, title string, count int) {
	if len(c.milestones) == 0 {
		return
	}
	c.milestonesMu.Lock()
	hit := c.milestonesHit[sessionID]
	if hit == nil {
		hit = make(map[int]bool)
		c.milestonesHit[sessionID] = hit
	}
	var crossed []int
	for _, threshold := range c.milestones {
		if count >= threshold && !hit[threshold] {
			hit[threshold] = true
			crossed = append(crossed, threshold)
		}
	}
	c.milestonesMu.Unlock()

	for _, threshold := range crossed {
		c.notify(notify.Event{
			Type:    notify.TypeViewerMilestone,
			Title:   title,
			Message: fmt.Sprintf("Stream reached %d viewers", threshold),
			Data: notify.ViewerMilestoneData{
				SessionID: sessionID,
				Threshold: threshold,
				Count:     count,
			},
		})
	}
}
