// Package queue carries notification jobs from the order lifecycle to the
// mail dispatcher, either over RabbitMQ or through an in-process pool.
package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"

    "github.com/iliyamo/seat-settlement/internal/service"
)

// NotificationQueueName is the durable queue notification jobs are
// published to.
const NotificationQueueName = "notification.dispatch"

// NotificationMessage is the envelope published for every job.  The job
// itself is self-contained: consumers reload the order and never need the
// publisher's state.
type NotificationMessage struct {
    ID         string                  `json:"id"`
    Job        service.NotificationJob `json:"job"`
    EnqueuedAt string                  `json:"enqueued_at"`
}

// Processor delivers one job.  *service.Dispatcher satisfies it.
type Processor interface {
    Process(ctx context.Context, job service.NotificationJob) (service.SendResult, error)
}

func newMessage(job service.NotificationJob, now time.Time) NotificationMessage {
    return NotificationMessage{ID: uuid.NewString(), Job: job, EnqueuedAt: now.UTC().Format(time.RFC3339)}
}

func decodeMessage(body []byte) (NotificationMessage, error) {
    var m NotificationMessage
    if err := json.Unmarshal(body, &m); err != nil {
        return m, fmt.Errorf("unmarshal: %w", err)
    }
    if m.Job.OrderID == "" || m.Job.Purpose == "" {
        return m, fmt.Errorf("message %s has no order or purpose", m.ID)
    }
    return m, nil
}
