package analytics

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/models"
)

// MemoryStore is an in-memory sample Store for tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[uuid.UUID][]models.AnalyticsSample
}

// NewMemoryStore creates an empty in-memory analytics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[uuid.UUID][]models.AnalyticsSample)}
}

// Record appends one sample.
func (m *MemoryStore) Record(ctx context.Context, sample *models.AnalyticsSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample.ID = uuid.New()
	m.samples[sample.SessionID] = append(m.samples[sample.SessionID], *sample)
	return nil
}

// Latest returns the most recent sample per metric name.
func (m *MemoryStore) Latest(ctx context.Context, sessionID uuid.UUID) (map[string]models.AnalyticsSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.AnalyticsSample)
	for _, s := range m.samples[sessionID] {
		if prev, ok := out[s.Metric]; !ok || s.RecordedAt.After(prev.RecordedAt) || s.RecordedAt.Equal(prev.RecordedAt) {
			out[s.Metric] = s
		}
	}
	return out, nil
}

// Series returns all samples for one metric, oldest first.
func (m *MemoryStore) Series(ctx context.Context, sessionID uuid.UUID, metric string) ([]models.AnalyticsSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.AnalyticsSample
	for _, s := range m.samples[sessionID] {
		if s.Metric == metric {
			list = append(list, s)
		}
	}
	return list, nil
}
