package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// KafkaNotifier publishes assignment events to a Kafka topic, keyed by
// volunteer address so one volunteer's notifications stay ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (n *KafkaNotifier) NotifyAssigned(ctx context.Context, volunteer domain.SupportVolunteer, session domain.SupportSession) error {
	payload, err := marshalAssignedEvent(volunteer, session)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(volunteer.Address),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
