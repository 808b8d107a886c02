package streams

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.StreamingSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*models.StreamingSession)}
}

// Create inserts a session, enforcing the one-active-per-group-session slot.
func (m *MemoryStore) Create(ctx context.Context, s *models.StreamingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.GroupSessionID == s.GroupSessionID && existing.Status.Active() {
			return streamerr.Conflict("group session %s already has an active stream", s.GroupSessionID)
		}
	}
	s.ID = uuid.New()
	s.Status = models.StatusCreated
	s.CreatedAt = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetByID returns a copy of the session.
func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, streamerr.NotFound("session %s", id)
	}
	cp := *s
	return &cp, nil
}

// GetByRoomID returns the session with the given room identifier.
func (m *MemoryStore) GetByRoomID(ctx context.Context, roomID string) (*models.StreamingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.RoomID == roomID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, streamerr.NotFound("room %s", roomID)
}

// ListByStatus returns all sessions in the given status.
func (m *MemoryStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.StreamingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.StreamingSession
	for _, s := range m.sessions {
		if s.Status == status {
			list = append(list, *s)
		}
	}
	return list, nil
}

// ListByGroupSession returns every session for a group session.
func (m *MemoryStore) ListByGroupSession(ctx context.Context, groupSessionID uuid.UUID) ([]models.StreamingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.StreamingSession
	for _, s := range m.sessions {
		if s.GroupSessionID == groupSessionID {
			list = append(list, *s)
		}
	}
	return list, nil
}

// ActiveByGroupSession returns the non-ended session for a group session, or nil.
func (m *MemoryStore) ActiveByGroupSession(ctx context.Context, groupSessionID uuid.UUID) (*models.StreamingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.GroupSessionID == groupSessionID && s.Status.Active() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// UpdateStatus applies the conditional transition id: from -> to.
func (m *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from []models.SessionStatus, to models.SessionStatus, startedAt, endedAt *time.Time) (*models.StreamingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, streamerr.NotFound("session %s", id)
	}
	matched := false
	for _, f := range from {
		if s.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, streamerr.Conflict("session %s changed state concurrently", id)
	}
	s.Status = to
	if startedAt != nil {
		t := *startedAt
		s.StartedAt = &t
	}
	if endedAt != nil {
		t := *endedAt
		s.EndedAt = &t
	}
	cp := *s
	return &cp, nil
}

// UpdateViewerCount refreshes the advisory counter.
func (m *MemoryStore) UpdateViewerCount(ctx context.Context, id uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return streamerr.NotFound("session %s", id)
	}
	s.ViewerCount = count
	return nil
}

// DeleteByGroupSession removes all sessions for a group session.
func (m *MemoryStore) DeleteByGroupSession(ctx context.Context, groupSessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.GroupSessionID == groupSessionID {
			delete(m.sessions, id)
		}
	}
	return nil
}
