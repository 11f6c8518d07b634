// Package notify records that a sync occurred for downstream consumers.
// Publishing is fire-and-forget: a failed notification never fails the
// webhook that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"idsync/internal/platform/kafka/producer"
	"idsync/internal/webhook/models"
)

// Notifier publishes sync-recorded notifications.
type Notifier interface {
	SyncRecorded(ctx context.Context, n models.SyncNotification)
}

// Noop discards notifications. Used when no brokers are configured.
type Noop struct{}

func (Noop) SyncRecorded(context.Context, models.SyncNotification) {}

// payload is the wire shape of a sync-recorded message.
type payload struct {
	Provider    string    `json:"provider"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	OccurredAt  time.Time `json:"occurred_at"`
	ProcessedAt time.Time `json:"processed_at"`
}

// KafkaNotifier publishes notifications to a Kafka topic through a buffered
// channel drained by a background goroutine, so the webhook path never blocks
// on broker latency.
type KafkaNotifier struct {
	producer *producer.Producer
	topic    string
	logger   *slog.Logger

	events chan models.SyncNotification
	wg     sync.WaitGroup
	once   sync.Once
}

// NewKafka constructs a KafkaNotifier with the given buffer size.
func NewKafka(p *producer.Producer, topic string, logger *slog.Logger, buffer int) *KafkaNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	n := &KafkaNotifier{
		producer: p,
		topic:    topic,
		logger:   logger,
		events:   make(chan models.SyncNotification, buffer),
	}
	n.wg.Add(1)
	go n.drain()
	return n
}

// SyncRecorded queues the notification. When the buffer is full the
// notification is dropped and counted in logs; dropping is preferable to
// stalling webhook responses.
func (n *KafkaNotifier) SyncRecorded(_ context.Context, notification models.SyncNotification) {
	select {
	case n.events <- notification:
	default:
		n.logger.Warn("sync notification dropped, buffer full",
			"provider", notification.Provider.String(),
			"fingerprint", notification.Fingerprint,
		)
	}
}

func (n *KafkaNotifier) drain() {
	defer n.wg.Done()
	for notification := range n.events {
		body, err := json.Marshal(payload{
			Provider:    notification.Provider.String(),
			UserID:      notification.UserID.String(),
			Fingerprint: notification.Fingerprint,
			OccurredAt:  notification.OccurredAt,
			ProcessedAt: notification.ProcessedAt,
		})
		if err != nil {
			n.logger.Error("marshal sync notification", "error", err)
			continue
		}
		err = n.producer.ProduceAsync(&producer.Message{
			Topic: n.topic,
			Key:   []byte(notification.UserID.String()),
			Value: body,
		})
		if err != nil {
			n.logger.Error("publish sync notification",
				"error", err,
				"provider", notification.Provider.String(),
				"fingerprint", notification.Fingerprint,
			)
		}
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (n *KafkaNotifier) Close() {
	n.once.Do(func() {
		close(n.events)
		n.wg.Wait()
	})
}
