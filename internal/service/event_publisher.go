package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/cms-auth/internal/queue"
)

// EventPublisher delivers auth events. Delivery is best effort: the auth
// flows log a failed publish and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, event q.AuthEvent) error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, q.AuthEvent) error { return nil }

// AMQPPublisher publishes events to RabbitMQ, dialing once per event.
// Auth events are rare enough that a pooled connection is not needed.
type AMQPPublisher struct {
	URL  string
	dial func(url string) (*amqp.Connection, error)
}

// dialTimeout bounds how long a publish may wait on an unreachable broker.
const dialTimeout = 2 * time.Second

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{URL: url, dial: func(url string) (*amqp.Connection, error) {
		return amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	}}
}

// Publish declares the durable queue and sends event as a persistent
// JSON message on the default exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, queue string, event q.AuthEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := p.dial(p.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
