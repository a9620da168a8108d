package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes the job body for one claimed entry. The context carries the
// entry's deadline; a runner still going when it expires counts as a failed
// attempt.
type Runner interface {
	Run(ctx context.Context, e *Entry) error
}

// Pool pulls entries off a Queue with a fixed number of workers. Each worker
// executes one run start-to-finish; entries beyond the pool's capacity wait
// in FIFO order.
type Pool struct {
	queue  *Queue
	runner Runner
	size   int
	logger zerolog.Logger
}

// NewPool constructs a worker pool of the given size.
func NewPool(q *Queue, runner Runner, size int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{queue: q, runner: runner, size: size, logger: logger}
}

// Size returns the configured concurrency.
func (p *Pool) Size() int {
	return p.size
}

// Start runs the pool until the context is canceled and all workers return.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	p.logger.Info().Int("workers", p.size).Msg("worker pool started")
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error().Err(err).Int("worker", id).Msg("worker: dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.queue.cfg.PollInterval):
			}
			continue
		}
		if e == nil {
			continue
		}
		p.handle(ctx, id, e)
	}
}

func (p *Pool) handle(ctx context.Context, id int, e *Entry) {
	p.logger.Info().
		Str("job_id", e.JobID).
		Int("attempt", e.Attempts).
		Int("worker", id).
		Msg("worker: picked job")

	runCtx, cancel := context.WithDeadline(ctx, e.Deadline)
	err := p.runner.Run(runCtx, e)
	cancel()

	// Acking must survive the run context having expired.
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ackCancel()

	if err == nil {
		if ackErr := p.queue.Complete(ackCtx, e.JobID); ackErr != nil {
			p.logger.Error().Err(ackErr).Str("job_id", e.JobID).Msg("worker: complete ack failed")
		}
		return
	}

	retry, delay, ackErr := p.queue.Fail(ackCtx, e, err)
	if ackErr != nil {
		p.logger.Error().Err(ackErr).Str("job_id", e.JobID).Msg("worker: failure ack failed")
		return
	}
	if retry {
		p.logger.Warn().
			Err(err).
			Str("job_id", e.JobID).
			Int("attempt", e.Attempts).
			Dur("retry_in", delay).
			Msg("worker: job failed, retry scheduled")
	} else {
		p.logger.Error().
			Err(err).
			Str("job_id", e.JobID).
			Int("attempts", e.Attempts).
			Msg("worker: job failed terminally")
	}
}
