package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gopherchat/internal/model"
)

type MessageStore interface {
	CreateIfAbsent(ctx context.Context, message *model.Message) error
}

// HistoryInvalidator marks a chat's cached history stale once a queued message
// has landed in the database.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, chatID uuid.UUID) error
}

type MessagePersistWorker struct {
	conn      *amqp.Connection
	store     MessageStore
	history   HistoryInvalidator
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(
	conn *amqp.Connection,
	store MessageStore,
	history HistoryInvalidator,
	queueName string,
	log *zap.Logger,
) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:      conn,
		store:     store,
		history:   history,
		queueName: queueName,
		log:       log,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

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
					w.log.Warn("message persist deliveries closed", zap.String("queue", w.queueName))
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.log.Info("message persist worker started", zap.String("queue", w.queueName))
	return nil
}

// handle stores one delivery. Undecodable payloads are dropped; a failed
// insert is requeued once and dropped on the second failure.
func (w *MessagePersistWorker) handle(ctx context.Context, d amqp.Delivery) {
	var msg model.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.log.Error("worker decode message failed", zap.Error(err), zap.String("message_id", d.MessageId))
		_ = d.Nack(false, false)
		return
	}

	if err := w.store.CreateIfAbsent(ctx, &msg); err != nil {
		w.log.Error("worker persist message failed",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
			zap.Bool("redelivered", d.Redelivered),
		)
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	if w.history != nil {
		if err := w.history.Invalidate(ctx, msg.ChatID); err != nil {
			w.log.Warn("worker invalidate history failed", zap.Error(err), zap.String("chat_id", msg.ChatID.String()))
		}
	}
	_ = d.Ack(false)
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
