// Package relay forwards bus events to Kafka so other deployments
// (analytics, archival, cross-instance fan-out) can consume them. The relay
// is optional; the in-process bus remains the source of truth.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// envelope is the wire form of a relayed event.
type envelope struct {
	Category   string      `json:"category"`
	Type       string      `json:"type"`
	SessionID  string      `json:"session_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload,omitempty"`
}

// KafkaRelay mirrors every bus event onto a Kafka topic, keyed by session
// id so one session's events stay ordered within a partition.
type KafkaRelay struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
	cancels  []func()
}

// NewKafkaRelay creates a relay and its producer.
func NewKafkaRelay(brokers, topic string, partitions int) (*KafkaRelay, error) {
	if err := ensureTopic(brokers, topic, partitions); err != nil {
		log.L().Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic, may already exist")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	r := &KafkaRelay{
		producer: p,
		topic:    topic,
		doneCh:   make(chan struct{}),
	}

	go r.deliveryReportHandler()

	return r, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

// Attach subscribes the relay to every bus category. Call Close to detach.
func (r *KafkaRelay) Attach(b *bus.Bus) {
	for _, cat := range bus.Categories() {
		category := cat
		cancel := b.Subscribe(category, func(evt bus.Event) {
			r.forward(category, evt)
		})
		r.cancels = append(r.cancels, cancel)
	}
}

// forward produces one event. Publish on the bus must not block on Kafka,
// so delivery is fire-and-forget; failures surface in the delivery report.
func (r *KafkaRelay) forward(cat bus.Category, evt bus.Event) {
	value, err := json.Marshal(envelope{
		Category:   string(cat),
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		OccurredAt: evt.OccurredAt,
		Payload:    evt.Payload,
	})
	if err != nil {
		log.L().Error().Err(err).Str("event_type", evt.Type).Msg("failed to marshal relay event")
		return
	}

	err = r.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &r.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(evt.SessionID),
		Value: value,
	}, nil)
	if err != nil {
		log.L().Error().Err(err).Str("event_type", evt.Type).Msg("failed to produce relay event")
	}
}

func (r *KafkaRelay) deliveryReportHandler() {
	for e := range r.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.L().Warn().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
			}
		}
	}
	close(r.doneCh)
}

// Close detaches from the bus, flushes buffered events, and shuts the
// producer down.
func (r *KafkaRelay) Close() error {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	r.producer.Flush(5000)
	r.producer.Close()
	<-r.doneCh
	return nil
}
