package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/pkg/database"
)

const attendanceColumns = `id, session_id, user_id, joined_at, left_at, watch_seconds, created_at`

// Repository handles viewer_attendance persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOpen returns the viewer's open attendance, or nil when none exists.
func (r *Repository) GetOpen(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error) {
	const q = `SELECT ` + attendanceColumns + ` FROM viewer_attendance
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`
	var a models.ViewerAttendance
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return scanAttendance(r.pool.QueryRow(ctx, q, sessionID, userID), &a)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, streamerr.Storage(err)
	}
	return &a, nil
}

// CreateOrReopen inserts the attendance row, or reopens the closed one:
// the (session_id, user_id) uniqueness constraint holds, watch_seconds
// accumulates across intervals.
func (r *Repository) CreateOrReopen(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error) {
	const q = `INSERT INTO viewer_attendance (session_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET joined_at = $3, left_at = NULL
		RETURNING ` + attendanceColumns
	var a models.ViewerAttendance
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return scanAttendance(r.pool.QueryRow(ctx, q, sessionID, userID, at), &a)
	})
	if err != nil {
		return nil, streamerr.Storage(err)
	}
	return &a, nil
}

// Close closes the open attendance at the given instant and records the
// interval. Returns nil when the viewer has no open record. A single
// statement closes the row and logs the interval, so the close commits
// fully or not at all and a retried attempt cannot leave the interval
// behind.
func (r *Repository) Close(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (*models.ViewerAttendance, error) {
	const q = `WITH closed AS (
			UPDATE viewer_attendance
			SET left_at = $3,
			    watch_seconds = watch_seconds + GREATEST(0, EXTRACT(EPOCH FROM ($3 - joined_at))::BIGINT)
			WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
			RETURNING id, session_id, user_id, joined_at, left_at, watch_seconds, created_at
		), logged AS (
			INSERT INTO watch_intervals (session_id, user_id, joined_at, left_at)
			SELECT session_id, user_id, joined_at, $3 FROM closed
		)
		SELECT id, session_id, user_id, joined_at, left_at, watch_seconds, created_at FROM closed`
	var a models.ViewerAttendance
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return scanAttendance(r.pool.QueryRow(ctx, q, sessionID, userID, at), &a)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, streamerr.Storage(err)
	}
	return &a, nil
}

// CloseAll closes every open attendance for a session at the given instant.
func (r *Repository) CloseAll(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	const q = `WITH closed AS (
			UPDATE viewer_attendance
			SET left_at = $2,
			    watch_seconds = watch_seconds + GREATEST(0, EXTRACT(EPOCH FROM ($2 - joined_at))::BIGINT)
			WHERE session_id = $1 AND left_at IS NULL
			RETURNING session_id, user_id, joined_at
		)
		INSERT INTO watch_intervals (session_id, user_id, joined_at, left_at)
		SELECT session_id, user_id, joined_at, $2 FROM closed`
	var n int64
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, q, sessionID, at)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, streamerr.Storage(err)
	}
	return int(n), nil
}

// CountOpen returns the number of open attendances for a session.
func (r *Repository) CountOpen(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM viewer_attendance WHERE session_id = $1 AND left_at IS NULL`
	var n int
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, q, sessionID).Scan(&n)
	})
	if err != nil {
		return 0, streamerr.Storage(err)
	}
	return n, nil
}

// History returns all attendance rows and closed watch intervals for a session.
func (r *Repository) History(ctx context.Context, sessionID uuid.UUID) ([]models.ViewerAttendance, []models.WatchInterval, error) {
	var atts []models.ViewerAttendance
	var intervals []models.WatchInterval
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		atts, intervals = atts[:0], intervals[:0]

		rows, err := r.pool.Query(ctx,
			`SELECT `+attendanceColumns+` FROM viewer_attendance WHERE session_id = $1 ORDER BY joined_at`,
			sessionID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var a models.ViewerAttendance
			if err := scanAttendance(rows, &a); err != nil {
				rows.Close()
				return err
			}
			atts = append(atts, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = r.pool.Query(ctx,
			`SELECT session_id, user_id, joined_at, left_at FROM watch_intervals WHERE session_id = $1 ORDER BY joined_at`,
			sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var iv models.WatchInterval
			if err := rows.Scan(&iv.SessionID, &iv.UserID, &iv.JoinedAt, &iv.LeftAt); err != nil {
				return err
			}
			intervals = append(intervals, iv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, streamerr.Storage(err)
	}
	return atts, intervals, nil
}

func scanAttendance(row pgx.Row, a *models.ViewerAttendance) error {
	return row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.JoinedAt, &a.LeftAt, &a.WatchSeconds, &a.CreatedAt)
}
