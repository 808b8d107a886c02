package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/pkg/database"
)

// Repository handles chat_messages persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat messages repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts the message with the next per-session sequence. The
// UNIQUE (session_id, seq) constraint catches a concurrent writer on another
// instance; the retry re-reads MAX(seq) so sequences stay contiguous and
// never duplicate.
func (r *Repository) Append(ctx context.Context, msg *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (session_id, user_id, seq, body, kind)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4 FROM chat_messages WHERE session_id = $1
		RETURNING id, seq, created_at`
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx, q, msg.SessionID, msg.UserID, msg.Body, msg.Kind).
			Scan(&msg.ID, &msg.Seq, &msg.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the sequence race; retryable.
			return errors.New("chat sequence collision")
		}
		return err
	})
	if err != nil {
		return streamerr.Storage(err)
	}
	return nil
}

// Since returns messages with seq > afterSeq ascending, up to limit.
func (r *Repository) Since(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	q := `SELECT id, session_id, user_id, seq, body, kind, created_at
		FROM chat_messages WHERE session_id = $1 AND seq > $2 ORDER BY seq`
	args := []interface{}{sessionID, afterSeq}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	var list []models.ChatMessage
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		list = list[:0]
		for rows.Next() {
			var m models.ChatMessage
			if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Seq, &m.Body, &m.Kind, &m.CreatedAt); err != nil {
				return err
			}
			list = append(list, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, streamerr.Storage(err)
	}
	return list, nil
}

// Latest returns the newest limit messages in ascending order.
func (r *Repository) Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	const q = `SELECT id, session_id, user_id, seq, body, kind, created_at FROM (
			SELECT id, session_id, user_id, seq, body, kind, created_at
			FROM chat_messages WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) tail ORDER BY seq`
	var list []models.ChatMessage
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, sessionID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		list = list[:0]
		for rows.Next() {
			var m models.ChatMessage
			if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Seq, &m.Body, &m.Kind, &m.CreatedAt); err != nil {
				return err
			}
			list = append(list, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, streamerr.Storage(err)
	}
	return list, nil
}
