package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
)

type attendanceKey struct {
	sessionID uuid.UUID
	userID    uuid.UUID
}

// MemoryStore is an in-memory attendance Store for tests and single-node
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[attendanceKey]*models.ViewerAttendance
	intervals map[uuid.UUID][]models.WatchInterval
}

// NewMemoryStore creates an empty in-memory attendance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[attendanceKey]*models.ViewerAttendance),
		intervals: make(map[uuid.UUID][]models.WatchInterval),
	}
}

// GetOpen returns the viewer's open attendance, or nil.
func (m *MemoryStore) GetOpen(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.records[attendanceKey{sessionID, userID}]
	if !ok || !a.Open() {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// CreateOrReopen inserts or reopens the single (session, viewer) row.
func (m *MemoryStore) CreateOrReopen(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{sessionID, userID}
	a, ok := m.records[key]
	if !ok {
		a = &models.ViewerAttendance{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			CreatedAt: at,
		}
		m.records[key] = a
	}
	a.JoinedAt = at
	a.LeftAt = nil
	cp := *a
	return &cp, nil
}

// Close closes the open attendance and logs the interval.
func (m *MemoryStore) Close(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[attendanceKey{sessionID, userID}]
	if !ok || !a.Open() {
		return nil, nil
	}
	m.closeLocked(a, at)
	cp := *a
	return &cp, nil
}

// CloseAll closes every open attendance for a session.
func (m *MemoryStore) CloseAll(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, a := range m.records {
		if key.sessionID == sessionID && a.Open() {
			m.closeLocked(a, at)
			n++
		}
	}
	return n, nil
}

// CountOpen returns the number of open attendances for a session.
func (m *MemoryStore) CountOpen(ctx context.Context, sessionID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for key, a := range m.records {
		if key.sessionID == sessionID && a.Open() {
			n++
		}
	}
	return n, nil
}

// History returns all attendance rows and closed intervals for a session.
func (m *MemoryStore) History(ctx context.Context, sessionID uuid.UUID) ([]models.ViewerAttendance, []models.WatchInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var atts []models.ViewerAttendance
	for key, a := range m.records {
		if key.sessionID == sessionID {
			atts = append(atts, *a)
		}
	}
	intervals := append([]models.WatchInterval(nil), m.intervals[sessionID]...)
	return atts, intervals, nil
}

func (m *MemoryStore) closeLocked(a *models.ViewerAttendance, at time.Time) {
	elapsed := int64(at.Sub(a.JoinedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	a.WatchSeconds += elapsed
	t := at
	a.LeftAt = &t
	m.intervals[a.SessionID] = append(m.intervals[a.SessionID], models.WatchInterval{
		SessionID: a.SessionID,
		UserID:    a.UserID,
		JoinedAt:  a.JoinedAt,
		LeftAt:    at,
	})
}
