package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/pkg/database"
)

// Repository handles analytics_samples persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics samples repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record appends one sample.
func (r *Repository) Record(ctx context.Context, sample *models.AnalyticsSample) error {
	const q = `INSERT INTO analytics_samples (session_id, metric, value, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, q, sample.SessionID, sample.Metric, sample.Value, sample.RecordedAt).
			Scan(&sample.ID)
	})
	if err != nil {
		return streamerr.Storage(err)
	}
	return nil
}

// Latest returns the most recent sample per metric name.
func (r *Repository) Latest(ctx context.Context, sessionID uuid.UUID) (map[string]models.AnalyticsSample, error) {
	const q = `SELECT DISTINCT ON (metric) id, session_id, metric, value, recorded_at
		FROM analytics_samples WHERE session_id = $1
		ORDER BY metric, recorded_at DESC`
	out := make(map[string]models.AnalyticsSample)
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			var s models.AnalyticsSample
			if err := rows.Scan(&s.ID, &s.SessionID, &s.Metric, &s.Value, &s.RecordedAt); err != nil {
				return err
			}
			out[s.Metric] = s
		}
		return rows.Err()
	})
	if err != nil {
		return nil, streamerr.Storage(err)
	}
	return out, nil
}

// Series returns all samples for one metric, oldest first.
func (r *Repository) Series(ctx context.Context, sessionID uuid.UUID, metric string) ([]models.AnalyticsSample, error) {
	const q = `SELECT id, session_id, metric, value, recorded_at
		FROM analytics_samples WHERE session_id = $1 AND metric = $2
		ORDER BY recorded_at`
	var list []models.AnalyticsSample
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, sessionID, metric)
		if err != nil {
			return err
		}
		defer rows.Close()
		list = list[:0]
		for rows.Next() {
			var s models.AnalyticsSample
			if err := rows.Scan(&s.ID, &s.SessionID, &s.Metric, &s.Value, &s.RecordedAt); err != nil {
				return err
			}
			list = append(list, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, streamerr.Storage(err)
	}
	return list, nil
}
