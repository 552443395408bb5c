package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherchat/internal/model"
)

var ErrPublishNotConfirmed = errors.New("message publish not confirmed by broker")

// MessagePublisher hands messages to the persist queue. Write returns only
// after the broker has confirmed the persistent delivery, so a queued message
// is as durable as a direct insert.
type MessagePublisher struct {
	conn      *amqp.Connection
	queueName string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewMessagePublisher(conn *amqp.Connection, queueName string) *MessagePublisher {
	return &MessagePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *MessagePublisher) Write(ctx context.Context, msg *model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message payload failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID.String(),
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		p.resetChannel()
		return fmt.Errorf("publish message failed: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		p.resetChannel()
		return fmt.Errorf("wait publish confirm failed: %w", err)
	}
	if !acked {
		return ErrPublishNotConfirmed
	}
	return nil
}

func (p *MessagePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *MessagePublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms failed: %w", err)
	}
	if err := declareQueue(ch, p.queueName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *MessagePublisher) resetChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}
