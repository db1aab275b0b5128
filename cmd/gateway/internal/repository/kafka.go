package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Compile-time check to ensure KafkaEventLog implements OrderEventLog
var _ OrderEventLog = (*KafkaEventLog)(nil)

type KafkaEventLog struct {
	writer KafkaWriter
}

func NewKafkaEventLog(writer KafkaWriter) *KafkaEventLog {
	return &KafkaEventLog{writer: writer}
}

// NewKafkaWriter builds an async batching writer for the order event topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // same order id -> same partition
		// Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

// PublishOrderEvent writes the event keyed by order id.
func (k *KafkaEventLog) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: payload,
	})
}

// Close flushes buffered messages.
func (k *KafkaEventLog) Close() error {
	return k.writer.Close()
}
