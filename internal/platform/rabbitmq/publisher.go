package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"pdfrag/internal/app"
	"pdfrag/internal/model"
)

// ChannelOpener is satisfied by *amqp.Connection.
type ChannelOpener interface {
	Channel() (*amqp.Channel, error)
}

// ChatLogPublisher queues chat logs for the persistence worker.
type ChatLogPublisher struct {
	conn      ChannelOpener
	queueName string
}

func NewChatLogPublisher(conn ChannelOpener, queueName string) *ChatLogPublisher {
	return &ChatLogPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *ChatLogPublisher) Publish(ctx context.Context, entry model.ChatLog) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal chat log payload failed: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
	}); err != nil {
		return fmt.Errorf("publish chat log failed: %w", err)
	}
	return nil
}

// AnswerBroadcaster publishes answers on a topic exchange with routing key
// chat.<userID>, one private channel per user.
type AnswerBroadcaster struct {
	conn     ChannelOpener
	exchange string
}

func NewAnswerBroadcaster(conn ChannelOpener, exchange string) *AnswerBroadcaster {
	return &AnswerBroadcaster{
		conn:     conn,
		exchange: exchange,
	}
}

func RoutingKey(userID uint) string {
	return "chat." + strconv.FormatUint(uint64(userID), 10)
}

func (b *AnswerBroadcaster) Broadcast(ctx context.Context, userID uint, event app.AnswerEvent) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal answer payload failed: %w", err)
	}

	if err := ch.PublishWithContext(ctx, b.exchange, RoutingKey(userID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        "answer.created",
		Body:        payload,
	}); err != nil {
		return fmt.Errorf("publish answer failed: %w", err)
	}
	return nil
}
