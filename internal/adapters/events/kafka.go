// Package events publishes committed settlement events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each event as one JSON message. Messages are keyed by pool
// so a consumer sees every pool's history in order.
type KafkaSink struct {
	w messageWriter
}

var _ ports.EventSink = (*KafkaSink)(nil)

// NewWriter builds a synchronous writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 100 * time.Millisecond,
	}
}

// NewKafkaSink wraps a writer. The sink owns it and closes it on Close.
func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

// Publish writes the events in one batch.
func (s *KafkaSink) Publish(ctx context.Context, events ...domain.Event) error {
	if s == nil || s.w == nil || len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("events.Publish: marshal %s: %w", ev.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(messageKey(ev)),
			Value: payload,
			Time:  ev.At,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.Type)},
			},
		})
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events.Publish: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func messageKey(ev domain.Event) string {
	switch {
	case ev.Pool != nil:
		return ev.Pool.Hex()
	case ev.Account != "":
		return string(ev.Account)
	default:
		return ev.ID
	}
}
