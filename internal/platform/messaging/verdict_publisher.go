package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// VerdictPublisher emits one event per finalized submission to a durable queue.
type VerdictPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// Dial connects to the broker and declares the verdict queue.
func Dial(url, queue string) (*VerdictPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	logger.Info(context.Background(), "verdict publisher connected", zap.String("queue", queue))
	return &VerdictPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func newVerdictPublisher(ch channel, queue string) *VerdictPublisher {
	return &VerdictPublisher{ch: ch, queue: queue}
}

func (p *VerdictPublisher) PublishVerdict(ctx context.Context, ev model.VerdictEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: ev.SubmissionID,
		Timestamp:     ev.JudgedAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish verdict for %s: %w", ev.SubmissionID, err)
	}
	return nil
}

func (p *VerdictPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ch != nil {
		firstErr = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
