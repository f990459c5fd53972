package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"groceryai/pkg/domain"
)

// MessageSink is the slice of the store the persist worker needs.
type MessageSink interface {
	AppendMessage(msg domain.Message) error
}

// MessagePersistWorker drains the chat history queue into the store.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	sink      MessageSink
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, sink MessageSink, queueName string) *MessagePersistWorker {
	if queueName == "" {
		queueName = "groceryai.chat.messages"
	}
	return &MessagePersistWorker{conn: conn, sink: sink, queueName: queueName}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue: %w", err)
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

				var msg domain.Message
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					slog.Warn("decode chat message failed", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.sink.AppendMessage(msg); err != nil {
					slog.Warn("persist chat message failed", "message_id", msg.ID, "error", err)
					_ = d.Nack(false, true)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
