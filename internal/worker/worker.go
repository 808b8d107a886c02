// Package worker drains coordinator background jobs: analytics rollups and
// notification delivery.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/analytics"
	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/streams"
	"github.com/pulsefit/livestream/pkg/queue"
)

const deliverTimeout = 10 * time.Second

// JobQueue is the slice of the job queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes queued jobs and refreshes snapshot rollups for live
// sessions on an interval.
type Processor struct {
	queue      JobQueue
	aggregator *analytics.Aggregator
	store      streams.Store
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewProcessor creates a job processor. webhookURL may be empty for
// log-only notification delivery.
func NewProcessor(q JobQueue, aggregator *analytics.Aggregator, store streams.Store, webhookURL string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:      q,
		aggregator: aggregator,
		store:      store,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: deliverTimeout},
		logger:     logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRollup:
		var payload queue.RollupPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		result, err := p.aggregator.Rollup(ctx, payload.SessionID)
		if err != nil {
			return fmt.Errorf("rollup: %w", err)
		}
		p.logger.Info("rollup job done",
			zap.String("session_id", payload.SessionID.String()),
			zap.Bool("final", payload.Final),
			zap.Int("peak_viewers", result.PeakViewers))
		return nil
	case queue.JobTypeNotification:
		var payload queue.NotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliver(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// deliver posts the notification to the configured webhook, or logs it when
// none is configured.
func (p *Processor) deliver(ctx context.Context, payload queue.NotificationPayload) error {
	if p.webhookURL == "" {
		p.logger.Info("notification",
			zap.String("type", payload.Type),
			zap.String("title", payload.Title),
			zap.String("message", payload.Message))
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver status: %d", resp.StatusCode)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Warn("job failed",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			if rerr := p.queue.Retry(ctx, job); rerr != nil {
				p.logger.Error("retry failed", zap.Error(rerr), zap.String("job_id", job.ID))
			}
		}
	}
}

// RunSnapshots refreshes a rollup for every live session on the given
// interval, keeping dashboard metrics warm while a stream is running.
func (p *Processor) RunSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, err := p.store.ListByStatus(ctx, models.StatusLive)
			if err != nil {
				p.logger.Warn("list live sessions", zap.Error(err))
				continue
			}
			for _, s := range live {
				if _, err := p.aggregator.Rollup(ctx, s.ID); err != nil {
					p.logger.Warn("snapshot rollup", zap.Error(err), zap.String("session_id", s.ID.String()))
				}
			}
		}
	}
}
