package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type capturedRecord struct {
	topic string
	key   []byte
	value []byte
}

type captureProducer struct {
	records []capturedRecord
}

func (p *captureProducer) Publish(_ context.Context, topic string, key, value []byte) {
	p.records = append(p.records, capturedRecord{topic: topic, key: key, value: value})
}

func TestTopics(t *testing.T) {
	require.Equal(t,
		[]string{"payout.approved", "payout.processing", "payout.paid"},
		Topics("payout"),
	)
	require.Equal(t, "ledger.paid", Topic("ledger", EventPaid))
}

func TestKafkaNotifier_PublishesUnderPrefix(t *testing.T) {
	producer := &captureProducer{}
	notifier := NewKafka(producer, "payout", slog.New(slog.NewTextHandler(io.Discard, nil)))

	notifier.Publish(context.Background(), EventApproved, map[string]string{"payout_id": "pl-1"})

	require.Len(t, producer.records, 1)
	require.Equal(t, "payout.approved", producer.records[0].topic)

	var got map[string]string
	require.NoError(t, json.Unmarshal(producer.records[0].value, &got))
	require.Equal(t, "pl-1", got["payout_id"])
}

func TestKafkaNotifier_SwallowsMarshalFailure(t *testing.T) {
	producer := &captureProducer{}
	notifier := NewKafka(producer, "payout", slog.New(slog.NewTextHandler(io.Discard, nil)))

	notifier.Publish(context.Background(), EventPaid, func() {})

	require.Empty(t, producer.records)
}
