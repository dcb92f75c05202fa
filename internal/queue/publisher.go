package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/seat-settlement/internal/service"
)

// Publisher publishes notification jobs to RabbitMQ.  The connection is
// opened lazily and re-dialled after any failure, so a broker outage only
// fails the enqueues issued while it lasts.
type Publisher struct {
    url string

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

var _ service.NotificationQueue = (*Publisher)(nil)

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string) *Publisher {
    return &Publisher{url: url}
}

// Enqueue publishes job as a persistent message.
func (p *Publisher) Enqueue(ctx context.Context, job service.NotificationJob) error {
    body, err := json.Marshal(newMessage(job, time.Now()))
    if err != nil {
        return fmt.Errorf("marshal job: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    ch, err := p.channel()
    if err != nil {
        log.Error().Err(err).Msg("rabbitmq: channel unavailable")
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", NotificationQueueName, false, false, pub); err != nil {
        log.Error().Err(err).Str("order_id", job.OrderID).Msg("rabbitmq: publish failed")
        p.reset()
        return err
    }
    return nil
}

// channel returns the open channel, dialling when needed.  Caller holds mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    // Durable so jobs survive broker restarts.
    if _, err := ch.QueueDeclare(NotificationQueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
