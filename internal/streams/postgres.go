package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/pkg/database"
)

const sessionColumns = `id, group_session_id, host_id, stream_key_hash, room_id, title, description,
	max_viewers, viewer_count, quality, status, started_at, ended_at, created_at`

// Repository handles streaming_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a streaming sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new streaming session in created state.
func (r *Repository) Create(ctx context.Context, s *models.StreamingSession) error {
	const q = `INSERT INTO streaming_sessions (group_session_id, host_id, stream_key_hash, room_id, title, description, max_viewers, quality, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'created')
		RETURNING id, viewer_count, status, created_at`
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, q, s.GroupSessionID, s.HostID, s.StreamKeyHash, s.RoomID, s.Title, s.Description, s.MaxViewers, s.Quality).
			Scan(&s.ID, &s.ViewerCount, &s.Status, &s.CreatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return streamerr.Conflict("group session %s already has an active stream", s.GroupSessionID)
		}
		return streamerr.Storage(err)
	}
	return nil
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM streaming_sessions WHERE id = $1`
	return r.queryOne(ctx, q, id)
}

// GetByRoomID returns a session by its room identifier.
func (r *Repository) GetByRoomID(ctx context.Context, roomID string) (*models.StreamingSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM streaming_sessions WHERE room_id = $1`
	return r.queryOne(ctx, q, roomID)
}

// ListByStatus returns all sessions in the given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.StreamingSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM streaming_sessions WHERE status = $1 ORDER BY created_at DESC`
	var list []models.StreamingSession
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, status)
		if err != nil {
			return err
		}
		defer rows.Close()
		list = list[:0]
		for rows.Next() {
			var s models.StreamingSession
			if err := scanSession(rows, &s); err != nil {
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

// ListByGroupSession returns every session for a group session, newest first.
func (r *Repository) ListByGroupSession(ctx context.Context, groupSessionID uuid.UUID) ([]models.StreamingSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM streaming_sessions WHERE group_session_id = $1 ORDER BY created_at DESC`
	var list []models.StreamingSession
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, groupSessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		list = list[:0]
		for rows.Next() {
			var s models.StreamingSession
			if err := scanSession(rows, &s); err != nil {
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

// ActiveByGroupSession returns the non-ended session for a group session, or nil.
func (r *Repository) ActiveByGroupSession(ctx context.Context, groupSessionID uuid.UUID) (*models.StreamingSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM streaming_sessions
		WHERE group_session_id = $1 AND status <> 'ended' LIMIT 1`
	s, err := r.queryOne(ctx, q, groupSessionID)
	if errors.Is(err, streamerr.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// UpdateStatus applies the conditional transition id: from -> to.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []models.SessionStatus, to models.SessionStatus, startedAt, endedAt *time.Time) (*models.StreamingSession, error) {
	const q = `UPDATE streaming_sessions
		SET status = $2,
		    started_at = COALESCE($3, started_at),
		    ended_at = COALESCE($4, ended_at)
		WHERE id = $1 AND status = ANY($5)
		RETURNING ` + sessionColumns
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}
	var s models.StreamingSession
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return scanSession(r.pool.QueryRow(ctx, q, id, to, startedAt, endedAt, fromStr), &s)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row missing or precondition lost to a concurrent commit.
			if _, gerr := r.GetByID(ctx, id); errors.Is(gerr, streamerr.ErrNotFound) {
				return nil, gerr
			}
			return nil, streamerr.Conflict("session %s changed state concurrently", id)
		}
		return nil, streamerr.Storage(err)
	}
	return &s, nil
}

// UpdateViewerCount refreshes the advisory viewer_count column.
func (r *Repository) UpdateViewerCount(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE streaming_sessions SET viewer_count = $2 WHERE id = $1`
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, id, count)
		return err
	})
	if err != nil {
		return streamerr.Storage(err)
	}
	return nil
}

// DeleteByGroupSession removes all sessions for a group session; dependent
// attendance, chat and analytics rows go with them via ON DELETE CASCADE.
func (r *Repository) DeleteByGroupSession(ctx context.Context, groupSessionID uuid.UUID) error {
	const q = `DELETE FROM streaming_sessions WHERE group_session_id = $1`
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, groupSessionID)
		return err
	})
	if err != nil {
		return streamerr.Storage(err)
	}
	return nil
}

func (r *Repository) queryOne(ctx context.Context, q string, arg interface{}) (*models.StreamingSession, error) {
	var s models.StreamingSession
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return scanSession(r.pool.QueryRow(ctx, q, arg), &s)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, streamerr.NotFound("session %v", arg)
		}
		return nil, streamerr.Storage(err)
	}
	return &s, nil
}

func scanSession(row pgx.Row, s *models.StreamingSession) error {
	return row.Scan(&s.ID, &s.GroupSessionID, &s.HostID, &s.StreamKeyHash, &s.RoomID, &s.Title, &s.Description,
		&s.MaxViewers, &s.ViewerCount, &s.Quality, &s.Status, &s.StartedAt, &s.EndedAt, &s.CreatedAt)
}
