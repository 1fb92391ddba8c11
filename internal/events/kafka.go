package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
)

const DefaultTopic = "ledger.entries"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ledger entries to a topic, keyed by user so one
// user's entries stay on one partition in order. Writes are asynchronous:
// Publish only queues, and delivery failures surface in completed.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{logger: logger.Named("kafka")}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   p.completed,
	}
	return p
}

func (p *KafkaPublisher) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	metrics.EventPublishErrors.Add(float64(len(msgs)))
	for _, m := range msgs {
		p.logger.Warn("failed to deliver ledger entry",
			zap.ByteString("user_id", m.Key),
			zap.Error(err),
		)
	}
}

type EntryMessage struct {
	Event string             `json:"event"`
	Entry models.LedgerEntry `json:"entry"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, e models.LedgerEntry) error {
	data, err := json.Marshal(EntryMessage{Event: "ledger_entry_appended", Entry: e})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.UserID),
		Value: data,
		Time:  e.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
