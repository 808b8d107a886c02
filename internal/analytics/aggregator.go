// Package analytics derives rolling metrics from presence history and keeps
// an append-only sample series per session.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/models"
)

// Store persists analytics samples. Record appends, never overwrites;
// implementations map infrastructure failures to streamerr.ErrStorage.
type Store interface {
	Record(ctx context.Context, sample *models.AnalyticsSample) error
	// Latest returns the most recent sample per metric name.
	Latest(ctx context.Context, sessionID uuid.UUID) (map[string]models.AnalyticsSample, error)
	// Series returns all samples for one metric, oldest first.
	Series(ctx context.Context, sessionID uuid.UUID, metric string) ([]models.AnalyticsSample, error)
}

// PresenceHistory supplies attendance history; satisfied by presence.Tracker.
type PresenceHistory interface {
	History(ctx context.Context, sessionID uuid.UUID) ([]models.ViewerAttendance, []models.WatchInterval, error)
}

// Aggregator computes rollups and records samples.
type Aggregator struct {
	store    Store
	presence PresenceHistory
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an analytics aggregator.
func NewAggregator(store Store, presence PresenceHistory, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, presence: presence, logger: logger, now: time.Now}
}

// Record appends one sample.
func (a *Aggregator) Record(ctx context.Context, sessionID uuid.UUID, metric string, value float64, at time.Time) error {
	return a.store.Record(ctx, &models.AnalyticsSample{
		SessionID:  sessionID,
		Metric:     metric,
		Value:      value,
		RecordedAt: at,
	})
}

// Rollup recomputes peak_viewers, total_views and avg_watch_time from
// presence history and appends one sample per metric. Recomputing from
// source rather than mutating a running total makes repeated rollups over
// unchanged data produce identical values. On a non-ended session this is a
// snapshot in progress; only the rollup the coordinator triggers at session
// end is treated as final.
func (a *Aggregator) Rollup(ctx context.Context, sessionID uuid.UUID) (*models.RollupResult, error) {
	atts, intervals, err := a.presence.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := a.now()

	result := &models.RollupResult{
		SessionID:    sessionID,
		PeakViewers:  peakConcurrent(atts, intervals, now),
		TotalViews:   len(atts),
		AvgWatchTime: avgWatchSeconds(atts, now),
		RecordedAt:   now,
	}

	for metric, value := range map[string]float64{
		models.MetricPeakViewers:  float64(result.PeakViewers),
		models.MetricTotalViews:   float64(result.TotalViews),
		models.MetricAvgWatchTime: result.AvgWatchTime,
	} {
		if err := a.Record(ctx, sessionID, metric, value, now); err != nil {
			return nil, err
		}
	}

	a.logger.Info("rollup computed",
		zap.String("session_id", sessionID.String()),
		zap.Int("peak_viewers", result.PeakViewers),
		zap.Int("total_views", result.TotalViews),
		zap.Float64("avg_watch_time", result.AvgWatchTime))
	return result, nil
}

// Latest returns the most recent sample per metric for the read API.
func (a *Aggregator) Latest(ctx context.Context, sessionID uuid.UUID) (map[string]models.AnalyticsSample, error) {
	return a.store.Latest(ctx, sessionID)
}

// Series returns the recorded history of one metric, oldest first.
func (a *Aggregator) Series(ctx context.Context, sessionID uuid.UUID, metric string) ([]models.AnalyticsSample, error) {
	return a.store.Series(ctx, sessionID, metric)
}

// peakConcurrent sweeps all watch intervals (closed history plus currently
// open attendances, extended to now) and returns the maximum overlap.
func peakConcurrent(atts []models.ViewerAttendance, intervals []models.WatchInterval, now time.Time) int {
	type event struct {
		at    time.Time
		delta int
	}
	var events []event
	for _, iv := range intervals {
		events = append(events, event{iv.JoinedAt, +1}, event{iv.LeftAt, -1})
	}
	for _, att := range atts {
		if att.Open() {
			events = append(events, event{att.JoinedAt, +1}, event{now, -1})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].at.Equal(events[j].at) {
			// A leave at the same instant as a join does not overlap.
			return events[i].delta < events[j].delta
		}
		return events[i].at.Before(events[j].at)
	})
	peak, cur := 0, 0
	for _, e := range events {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

// avgWatchSeconds is the mean per-viewer accumulated watch time; open
// attendances accrue up to now.
func avgWatchSeconds(atts []models.ViewerAttendance, now time.Time) float64 {
	if len(atts) == 0 {
		return 0
	}
	var total int64
	for _, att := range atts {
		total += att.WatchSeconds
		if att.Open() {
			if elapsed := int64(now.Sub(att.JoinedAt).Seconds()); elapsed > 0 {
				total += elapsed
			}
		}
	}
	return float64(total) / float64(len(atts))
}
