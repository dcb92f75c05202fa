// Package scheduler runs the periodic background jobs of the server.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Expirer expires PENDING orders whose payment window has passed.
// *service.OrderService satisfies it.
type Expirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// Options tunes the expiry sweep.
type Options struct {
	Interval  time.Duration
	BatchSize int
	// RunTimeout bounds a single sweep.
	RunTimeout time.Duration
}

// Scheduler wraps a gocron scheduler with the server's jobs registered.
type Scheduler struct {
	inner gocron.Scheduler
	ctx   context.Context
	stop  context.CancelFunc
}

// New registers the expiry sweep.  Call Start to begin running it.
func New(expirer Expirer, opts Options) (*Scheduler, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = opts.Interval
	}
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{inner: inner, ctx: ctx, stop: stop}

	j, err := inner.NewJob(
		gocron.DurationJob(opts.Interval),
		gocron.NewTask(func() { s.sweep(expirer, opts) }),
		gocron.WithName("order-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		stop()
		_ = inner.Shutdown()
		return nil, fmt.Errorf("register expiry sweep: %w", err)
	}
	log.Info().Str("job_id", j.ID().String()).Dur("interval", opts.Interval).Msg("expiry sweep scheduled")
	return s, nil
}

// sweep drains overdue orders in batches until a batch comes back short.
func (s *Scheduler) sweep(expirer Expirer, opts Options) {
	ctx, cancel := context.WithTimeout(s.ctx, opts.RunTimeout)
	defer cancel()
	total := 0
	for {
		n, err := expirer.ExpireOverdue(ctx, opts.BatchSize)
		if err != nil {
			log.Error().Err(err).Int("expired", total).Msg("expiry sweep failed")
			return
		}
		total += n
		if n < opts.BatchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		log.Info().Int("expired", total).Msg("expiry sweep finished")
	}
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() { s.inner.Start() }

// Shutdown cancels a running sweep and waits for jobs to return.
func (s *Scheduler) Shutdown() error {
	s.stop()
	return s.inner.Shutdown()
}
