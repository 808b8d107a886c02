package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
)

// MemoryStore is an in-memory chat Store for tests and single-node
// deployments. Sequences are assigned under the store mutex, so they are
// strictly increasing and never duplicated even under concurrent posts.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]models.ChatMessage
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID][]models.ChatMessage)}
}

// Append assigns the next sequence and stores the message.
func (m *MemoryStore) Append(ctx context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[msg.SessionID]
	msg.ID = uuid.New()
	msg.Seq = int64(len(log)) + 1
	msg.CreatedAt = time.Now()
	m.messages[msg.SessionID] = append(log, *msg)
	return nil
}

// Since returns messages with seq > afterSeq ascending, up to limit.
func (m *MemoryStore) Since(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.messages[sessionID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(log)) {
		return nil, nil
	}
	tail := log[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]models.ChatMessage(nil), tail...), nil
}

// Latest returns the newest limit messages in ascending order.
func (m *MemoryStore) Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.messages[sessionID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]models.ChatMessage(nil), log...), nil
}
