// Package kafkaqueue provides a Kafka-backed push queue for multi-instance
// deployments, where failed balance pushes must survive a process restart.
package kafkaqueue

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/housepoints/ledger-go/remotesync"
)

const defaultTopic = "ledger.push_retries"

// Publisher writes failed balance pushes to a Kafka topic. Messages are keyed
// by member id so all retries for one member land in the same partition and
// stay ordered.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher for the given brokers. An empty topic
// selects the default retry topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = defaultTopic
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Enqueue publishes the push as a JSON message.
func (p *Publisher) Enqueue(ctx context.Context, push remotesync.QueuedPush) error {
	payload, marshalErr := jsoniter.ConfigFastest.Marshal(push)
	if marshalErr != nil {
		return marshalErr
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(push.MemberID.String()),
		Value: payload,
	})
}

// Close flushes pending messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
