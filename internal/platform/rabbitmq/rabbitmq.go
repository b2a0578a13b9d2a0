package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the queue and exchange declared at connect time.
type Topology struct {
	ChatLogQueue      string
	BroadcastExchange string
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

func New(ctx context.Context, url, connectionName string, topology Topology) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	done := make(chan error, 1)
	go func() {
		done <- declareTopology(ch, topology)
	}()

	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq topology declare timeout: %w", checkCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func declareTopology(d declarer, t Topology) error {
	if t.ChatLogQueue != "" {
		if _, err := d.QueueDeclare(t.ChatLogQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q failed: %w", t.ChatLogQueue, err)
		}
	}
	if t.BroadcastExchange != "" {
		if err := d.ExchangeDeclare(t.BroadcastExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q failed: %w", t.BroadcastExchange, err)
		}
	}
	return nil
}

// Ping reports whether conn is still open.
func Ping(conn *amqp.Connection) error {
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}
