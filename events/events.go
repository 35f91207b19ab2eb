// Package events publishes marketplace events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"zholda/config"
)

const (
	RequestCreated = "request.created"
	DriverLocation = "driver.location"
	SessionStarted = "session.started"
)

// Event is one message on the event topic. Key partitions by telegram id.
type Event struct {
	Type      string      `json:"type"`
	Key       string      `json:"-"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Kafka publishes events with a sarama sync producer.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafka connects a sync producer to cfg.Brokers.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	kc := sarama.NewConfig()
	kc.Producer.Return.Successes = true
	kc.Producer.RequiredAcks = sarama.WaitForAll
	kc.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic, now: time.Now}
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp == 0 {
		e.Timestamp = k.now().Unix()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(data),
	}
	if e.Key != "" {
		msg.Key = sarama.StringEncoder(e.Key)
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}

// Nop drops every event. It stands in when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
