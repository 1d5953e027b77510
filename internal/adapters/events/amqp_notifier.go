package events

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// AMQPNotifier publishes assignment events to a durable topic exchange.
// The routing key carries the priority so downstream consumers can bind
// urgent notifications to a dedicated queue.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQPNotifier{conn: conn, exchange: exchange}, nil
}

func (n *AMQPNotifier) NotifyAssigned(ctx context.Context, volunteer domain.SupportVolunteer, session domain.SupportSession) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	payload, err := marshalAssignedEvent(volunteer, session)
	if err != nil {
		return err
	}
	key := eventVolunteerAssigned + "." + string(session.Request.Priority)
	return ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    session.SessionID,
		Body:         payload,
	})
}

func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
