// Package chat provides the per-session append-only message feed.
package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
)

// MaxBodyLen caps a single chat message body.
const MaxBodyLen = 2000

// Store persists chat messages. Append assigns the per-session sequence;
// implementations guarantee sequences are strictly increasing from 1 with no
// duplicates, and map infrastructure failures to streamerr.ErrStorage.
type Store interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	// Since returns up to limit messages with seq strictly greater than
	// afterSeq, ascending. limit <= 0 means no limit.
	Since(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error)
	// Latest returns the newest limit messages in ascending order.
	Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// SessionGetter reads current session state; satisfied by streams.Store.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error)
}

// Feed is the totally ordered chat log scoped to one streaming session.
// Pre-show and paused-stream chat are allowed; only ended sessions reject
// posts.
type Feed struct {
	store    Store
	sessions SessionGetter
	logger   *zap.Logger
}

// NewFeed creates a chat feed.
func NewFeed(store Store, sessions SessionGetter, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: store, sessions: sessions, logger: logger}
}

// Post appends a message and returns it with its assigned sequence.
func (f *Feed) Post(ctx context.Context, sessionID, userID uuid.UUID, body string, kind models.MessageKind) (*models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > MaxBodyLen {
		return nil, streamerr.InvalidState("message body must be 1-%d characters", MaxBodyLen)
	}
	if !kind.Valid() {
		kind = models.KindText
	}
	session, err := f.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusEnded {
		return nil, streamerr.InvalidState("chat is closed for ended session %s", sessionID)
	}
	msg := &models.ChatMessage{
		SessionID: sessionID,
		UserID:    userID,
		Body:      body,
		Kind:      kind,
	}
	if err := f.store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Since returns messages with sequence strictly greater than afterSeq in
// ascending order. This is the resume mechanism for real-time subscribers:
// restartable after reconnect without loss or duplication.
func (f *Feed) Since(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	if _, err := f.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return f.store.Since(ctx, sessionID, afterSeq, limit)
}

// Latest returns the tail of the feed in ascending order; the catch-up view
// for a subscriber joining without a resume cursor.
func (f *Feed) Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if _, err := f.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return f.store.Latest(ctx, sessionID, limit)
}
