// Package events publishes lifecycle events to Kafka. Publishing is
// best-effort: the engine's state lives in the store, the stream only
// feeds derived views (the open-request index, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/parish-rides/internal/models"
)

// Producer is what the services depend on; NopProducer stands in when
// Kafka is not configured.
type Producer interface {
	Publish(ctx context.Context, ev models.RideEvent) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) Publish(ctx context.Context, ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	key := ev.RequestID
	if key == "" {
		key = ev.RideID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type NopProducer struct{}

func (NopProducer) Publish(ctx context.Context, ev models.RideEvent) error { return nil }
