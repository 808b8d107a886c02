package models

import (
	"time"

	"github.com/google/uuid"
)

// Metric names recorded by the analytics aggregator.
const (
	MetricPeakViewers  = "peak_viewers"
	MetricTotalViews   = "total_views"
	MetricAvgWatchTime = "avg_watch_time"
)

// AnalyticsSample is a point-in-time metric value for a session. Samples are
// appended, never upserted; multiple samples per metric form a time series.
type AnalyticsSample struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RollupResult holds the derived metrics recomputed from presence history.
type RollupResult struct {
	SessionID    uuid.UUID `json:"session_id"`
	PeakViewers  int       `json:"peak_viewers"`
	TotalViews   int       `json:"total_views"`
	AvgWatchTime float64   `json:"avg_watch_time"`
	RecordedAt   time.Time `json:"recorded_at"`
}
