// Package notify is the status-change notification sink. Publishing is
// fire-and-forget: presentation layers subscribe to payout status topics,
// and a delivery failure is an observability problem, never a business one.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Events the engine publishes. Wire topic names are <prefix>.<event>.
const (
	EventApproved   = "approved"
	EventProcessing = "processing"
	EventPaid       = "paid"
)

// Topic joins a topic prefix and an event into a wire topic name.
func Topic(prefix, event string) string {
	return prefix + "." + event
}

// Topics lists every topic the engine publishes under the given prefix, for
// startup topic creation.
func Topics(prefix string) []string {
	return []string{
		Topic(prefix, EventApproved),
		Topic(prefix, EventProcessing),
		Topic(prefix, EventPaid),
	}
}

// Notifier publishes a payload for an event. Implementations must never let
// a publish failure reach the caller.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any)
}

// Producer is the subset of the Kafka producer Publish needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte)
}

// KafkaNotifier publishes JSON payloads through a Kafka producer, mapping
// events onto topics under its configured prefix.
type KafkaNotifier struct {
	producer Producer
	prefix   string
	logger   *slog.Logger
}

// NewKafka constructs a Kafka-backed notifier publishing under prefix.
func NewKafka(producer Producer, prefix string, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{producer: producer, prefix: prefix, logger: logger}
}

func (n *KafkaNotifier) Publish(ctx context.Context, event string, payload any) {
	topic := Topic(n.prefix, event)
	value, err := json.Marshal(payload)
	if err != nil {
		n.logger.ErrorContext(ctx, "notification marshal failed", "topic", topic, "error", err)
		return
	}
	n.producer.Publish(ctx, topic, nil, value)
}

// Noop discards notifications. Wired when Kafka is not configured and in
// tests that don't assert on notification delivery.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) {}
