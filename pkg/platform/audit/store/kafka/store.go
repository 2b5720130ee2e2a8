// Package kafka streams audit events to a Kafka topic, keyed by entity id so
// every event for one identifier lands on the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "entityid/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type Store struct {
	producer Producer
}

// New connects a producer to brokers with topic as the default destination.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Store, error) {
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.ZstdCompression()),
	}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Store{producer: client}, nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(p Producer) *Store {
	return &Store{producer: p}
}

type message struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
	RequestID  string         `json:"requestId,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(message{
		ID:         event.ID,
		Category:   string(event.Category),
		Action:     event.Action,
		EntityID:   event.EntityID,
		EntityType: event.EntityType,
		UserID:     event.UserID,
		Details:    event.Details,
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:  event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(event.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.producer.Close()
}
