package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueJobs is the Redis list key for coordinator background jobs
	// (rollups and notification delivery share one list).
	QueueJobs = "worker:stream_jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay before a failed job is re-enqueued.
	RetryBackoff = 10 * time.Second
	// retryPushTimeout bounds the deferred re-enqueue push.
	retryPushTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRollup       JobType = "analytics_rollup"
	JobTypeNotification JobType = "notification"
)

// RollupPayload is the payload for analytics rollup jobs.
type RollupPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	// Final marks the rollup triggered by session end.
	Final bool `json:"final"`
}

// NotificationPayload is the payload for notification delivery jobs. Data is
// the JSON-encoded typed event variant for Type.
type NotificationPayload struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueRollup enqueues an analytics rollup job.
func (q *Queue) EnqueueRollup(ctx context.Context, payload RollupPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := q.push(ctx, JobTypeRollup, body); err != nil {
		return err
	}
	q.logger.Debug("enqueued rollup job", zap.String("session_id", payload.SessionID.String()), zap.Bool("final", payload.Final))
	return nil
}

// EnqueueNotification enqueues a notification delivery job.
func (q *Queue) EnqueueNotification(ctx context.Context, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := q.push(ctx, JobTypeNotification, body); err != nil {
		return err
	}
	q.logger.Debug("enqueued notification job", zap.String("type", payload.Type))
	return nil
}

func (q *Queue) push(ctx context.Context, jobType JobType, payload json.RawMessage) error {
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueJobs).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry schedules a job for another attempt after RetryBackoff, so a failing
// dependency gets time to recover before the job comes around again. If
// attempt >= MaxRetries the job goes straight to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if job.Attempt >= MaxRetries {
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return q.client.RPush(ctx, QueueDLQ, raw).Err()
	}
	time.AfterFunc(RetryBackoff, func() {
		ctx, cancel := context.WithTimeout(context.Background(), retryPushTimeout)
		defer cancel()
		if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
			q.logger.Error("retry enqueue failed",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Error(err))
		}
	})
	return nil
}
