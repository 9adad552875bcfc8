package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Case lifecycle events published to the case topic.
const (
	EventCaseEscalated      = "case.escalated"
	EventReminderSent       = "case.reminder_sent"
	EventCaseUnresponsive   = "case.marked_unresponsive"
	EventGovernmentResponse = "case.government_response"
)

// CaseEventProducer publishes case lifecycle events. Mocked in service tests.
type CaseEventProducer interface {
	ProduceCaseEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer writes case events to a Kafka topic. Best-effort: failures are logged, never returned.
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    zerolog.Logger
}

// NewProducer returns a producer. With no brokers or no topic every call is a no-op.
func NewProducer(brokers []string, topic string, log zerolog.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceCaseEvent sends one event keyed by payload["case_id"] so a case's events stay ordered.
func (p *Producer) ProduceCaseEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("kafka: marshal case event")
		return
	}
	var key []byte
	if id, ok := payload["case_id"]; ok {
		if b, err := json.Marshal(id); err == nil {
			key = b
		}
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		p.log.Warn().Err(err).Str("event", event).Str("topic", p.topic).Msg("kafka: write case event")
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
