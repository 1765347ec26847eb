// Package notification publishes domain events to RabbitMQ for delivery by
// the notification workers. Publishing is fire-and-forget: failures are
// logged and returned, and callers never roll back a transaction because a
// notification could not be sent.
package notification

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"couponbay/internal/models"
)

// Event kinds the escrow core and trust ledger emit.
const (
	EventPurchaseCompleted = "purchase_completed"
	EventSaleCompleted     = "sale_completed"
	EventPurchaseRefunded  = "purchase_refunded"
	EventPurchaseFailed    = "purchase_failed"
	EventDisputeFiled      = "dispute_filed"
	EventAccountBanned     = "account_banned"
)

// Event is the message delivered to notification workers.
type Event struct {
	UserID  uint        `json:"user_id"`
	Type    string      `json:"type"`
	Payload models.JSON `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// Publisher is the boundary consumed by the escrow and trust services.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Dispatcher publishes events to a RabbitMQ queue. Each publish opens a
// fresh connection; the volume is low (one event per state transition) and
// a broken long-lived channel must never take a purchase down with it.
type Dispatcher struct {
	url   string
	queue string
}

func NewDispatcher(url, queue string) *Dispatcher {
	return &Dispatcher{url: url, queue: queue}
}

func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	event.SentAt = time.Now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to marshal notification event")
		return err
	}

	conn, err := amqp.Dial(d.url)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to connect to broker")
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to open channel")
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", d.queue).Msg("failed to declare queue")
		return err
	}

	err = ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to publish notification event")
		return err
	}

	log.Debug().Str("type", event.Type).Uint("user_id", event.UserID).Msg("notification event published")
	return nil
}

// NoopPublisher drops all events. Used when no broker is configured and in
// tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
