package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/livestream/pkg/queue"
)

const enqueueTimeout = 5 * time.Second

// QueueNotifier hands events to the Redis job queue; the worker delivers
// them to the external notification channel.
type QueueNotifier struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q *queue.Queue, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, logger: logger}
}

// Notify enqueues the event. Failures are logged, not surfaced: a lost
// notification must never fail the state transition that produced it.
func (n *QueueNotifier) Notify(event Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		n.logger.Warn("marshal notification data", zap.Error(err), zap.String("type", string(event.Type)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	err = n.queue.EnqueueNotification(ctx, queue.NotificationPayload{
		Type:    string(event.Type),
		Title:   event.Title,
		Message: event.Message,
		Data:    data,
	})
	if err != nil {
		n.logger.Warn("enqueue notification", zap.Error(err), zap.String("type", string(event.Type)))
	}
}

// LogNotifier writes events to the log; used in development and as the
// fallback when no queue is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(event Event) {
	n.logger.Info("notification",
		zap.String("type", string(event.Type)),
		zap.String("title", event.Title),
		zap.String("message", event.Message),
		zap.Any("data", event.Data))
}
