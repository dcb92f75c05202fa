package queue

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/iliyamo/seat-settlement/internal/service"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// InProcessQueue runs notification jobs on a fixed pool of goroutines.
// Jobs still buffered when the process exits are lost; deployments that
// need durability use the RabbitMQ publisher.
type InProcessQueue struct {
    p       Processor
    jobs    chan NotificationMessage
    wg      sync.WaitGroup
    mu      sync.RWMutex
    closed  bool
    timeout time.Duration
}

var _ service.NotificationQueue = (*InProcessQueue)(nil)

// NewInProcessQueue starts workers goroutines draining a buffer of size
// buffer.  Each job runs with its own timeout.
func NewInProcessQueue(p Processor, workers, buffer int) *InProcessQueue {
    if workers <= 0 {
        workers = 1
    }
    if buffer <= 0 {
        buffer = 256
    }
    q := &InProcessQueue{p: p, jobs: make(chan NotificationMessage, buffer), timeout: 30 * time.Second}
    for i := 0; i < workers; i++ {
        q.wg.Add(1)
        go q.worker()
    }
    return q
}

// Enqueue buffers job.  It blocks while the buffer is full until ctx is
// done.
func (q *InProcessQueue) Enqueue(ctx context.Context, job service.NotificationJob) error {
    q.mu.RLock()
    defer q.mu.RUnlock()
    if q.closed {
        return ErrQueueClosed
    }
    select {
    case q.jobs <- newMessage(job, time.Now()):
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (q *InProcessQueue) worker() {
    defer q.wg.Done()
    for m := range q.jobs {
        ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
        res, err := q.p.Process(ctx, m.Job)
        cancel()
        if err != nil {
            log.Error().Err(err).Str("message_id", m.ID).Str("order_id", m.Job.OrderID).
                Str("purpose", m.Job.Purpose).Msg("notification failed")
            continue
        }
        log.Debug().Str("message_id", m.ID).Str("order_id", m.Job.OrderID).Str("status", res.Status).
            Msg("notification processed")
    }
}

// Close stops accepting jobs and waits for buffered ones to finish or for
// ctx to end.
func (q *InProcessQueue) Close(ctx context.Context) error {
    q.mu.Lock()
    if !q.closed {
        q.closed = true
        close(q.jobs)
    }
    q.mu.Unlock()

    done := make(chan struct{})
    go func() {
        q.wg.Wait()
        close(done)
    }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
