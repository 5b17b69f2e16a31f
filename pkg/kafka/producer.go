package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
)

// Event types
const (
	EventRebuildCompleted = "rebuild.completed"
	EventRefreshCompleted = "refresh.completed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	brokerList := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

// Enabled reports whether brokers and a topic are configured
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// MessageWriter is the subset of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes snapshot change events
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// dev brokers may not have the topic yet
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter creates a producer over an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// SnapshotEventMessage announces a finished rebuild or refresh
type SnapshotEventMessage struct {
	Type          string           `json:"type"`
	RunID         string           `json:"run_id"`
	Kind          models.RunKind   `json:"kind"`
	Role          models.Role      `json:"role"`
	ParticipantID string           `json:"participant_id,omitempty"`
	StartID       int64            `json:"start_id,omitempty"`
	EndID         int64            `json:"end_id,omitempty"`
	Status        models.RunStatus `json:"status"`
	Counts        models.Counts    `json:"counts"`
	Rows          int              `json:"rows"`
	Unreachable   []string         `json:"unreachable_event_ids,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PublishSnapshotEvent publishes msg keyed by run id
func (p *Producer) PublishSnapshotEvent(ctx context.Context, msg *SnapshotEventMessage) error {
	if msg == nil {
		return fmt.Errorf("snapshot event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishSnapshotEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("run_id", msg.RunID),
		attribute.String("type", msg.Type),
	)

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal snapshot event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(msg.Type)},
		{Key: "run_id", Value: []byte(msg.RunID)},
		{Key: "role", Value: []byte(msg.Role)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.RunID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish snapshot event to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published %s for run %s", msg.Type, msg.RunID)
	return nil
}
