package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"pdfrag/internal/model"
)

var errInvalidChatLog = errors.New("invalid chat log")

type ChatLogStore interface {
	Create(ctx context.Context, entry *model.ChatLog) error
}

// ChatLogWorker consumes queued chat logs and stores them.
type ChatLogWorker struct {
	conn      *amqp.Connection
	store     ChatLogStore
	queueName string
	logger    *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatLogWorker(conn *amqp.Connection, store ChatLogStore, queueName string, logger *log.Logger) *ChatLogWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &ChatLogWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *ChatLogWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.logger.Printf("worker persist chat log failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *ChatLogWorker) handle(ctx context.Context, body []byte) error {
	var entry model.ChatLog
	if err := json.Unmarshal(body, &entry); err != nil {
		return fmt.Errorf("decode chat log failed: %w", err)
	}
	if entry.UserID == 0 || strings.TrimSpace(entry.Query) == "" {
		return errInvalidChatLog
	}
	entry.ID = 0
	return w.store.Create(ctx, &entry)
}

func (w *ChatLogWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
