package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(" kafka-1:9092, kafka-2:9092 ,", "sr.snapshot.events")

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, "sr.snapshot.events", cfg.Topic)
	assert.True(t, cfg.Enabled())
	assert.False(t, ParseConfig("", "topic").Enabled())
}

func TestPublishSnapshotEvent(t *testing.T) {
	writer := &fakeWriter{}
	producer := NewProducerWithWriter(writer, "sr.snapshot.events", testLogger())

	err := producer.PublishSnapshotEvent(context.Background(), &SnapshotEventMessage{
		Type:   EventRebuildCompleted,
		RunID:  "run-1",
		Kind:   models.RunKindRebuild,
		Role:   models.RoleOperator,
		Status: models.RunStatusPublished,
		Counts: models.Counts{Updated: 1, Deleted: 2},
		Rows:   10,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "run-1", string(msg.Key))

	var decoded SnapshotEventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, EventRebuildCompleted, decoded.Type)
	assert.Equal(t, models.Counts{Updated: 1, Deleted: 2}, decoded.Counts)
	assert.False(t, decoded.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, EventRebuildCompleted, headers["type"])
	assert.Equal(t, "operator", headers["role"])

	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}

func TestPublishSnapshotEvent_Errors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	producer := NewProducerWithWriter(writer, "topic", testLogger())

	assert.Error(t, producer.PublishSnapshotEvent(context.Background(), nil))
	assert.ErrorContains(t, producer.PublishSnapshotEvent(context.Background(), &SnapshotEventMessage{RunID: "x"}), "broker down")
}
