package kafka

import (
	"context"
	"fmt"
	"log"
	"strings"

	"edchat/internal/config"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// MessageHandler processes one consumed Kafka message. Returning an error
// skips the offset commit so the message is retried on the next rebalance.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer abstracts the Kafka consumer used by the inbound side of
// the bridge.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
}

// NewConfluentKafkaConsumer prepares a consumer; the group is chosen per
// Consume call because each server instance subscribes under its own group
// to receive the full stream.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) (MessageConsumer, error) {
	return &confluentKafkaConsumer{cfg: cfg}, nil
}

// Consume blocks, polling the topics until the context is canceled or a
// fatal broker error occurs. Offsets are committed only after the handler
// succeeded.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           c.groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log.Printf("Kafka consumer started for group %s, topics %v", groupID, topics)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Kafka consumer for group %s shutting down.", groupID)
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Printf("Kafka message handler failed (topic %s, offset %v): %v",
					*e.TopicPartition.Topic, e.TopicPartition.Offset, err)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Printf("Kafka offset commit failed (topic %s, offset %v): %v",
					*e.TopicPartition.Topic, e.TopicPartition.Offset, err)
			}
		case kafka.Error:
			if e.IsFatal() {
				log.Printf("Fatal Kafka error for group %s: %v", groupID, e)
				return e
			}
			log.Printf("Kafka consumer error for group %s: %v", groupID, e)
		case kafka.AssignedPartitions:
			c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			c.consumer.Unassign()
		}
	}
}

// Close closes the underlying Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		log.Printf("Error closing Kafka consumer for group %s: %v", c.groupID, err)
	}
	c.consumer = nil
}
