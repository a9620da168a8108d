package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult string

const (
	EnqueueAccepted  EnqueueResult = "accepted"
	EnqueueDuplicate EnqueueResult = "duplicate"
)

// CancelResult reports the outcome of a Cancel call.
type CancelResult string

const (
	CancelRemoved  CancelResult = "removed"
	CancelActive   CancelResult = "active"
	CancelNotFound CancelResult = "not-found"
)

// Counts is the aggregate view of the queue's backing store.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Config tunes a Queue. Zero fields fall back to the defaults below.
type Config struct {
	Prefix          string
	MaxAttempts     int
	JobTimeout      time.Duration
	Backoff         BackoffPolicy
	PollInterval    time.Duration
	RetentionWindow time.Duration
	CompletedKeep   int
	FailedKeep      int
}

const (
	defaultPrefix          = "previewq"
	defaultMaxAttempts     = 3
	defaultJobTimeout      = 120 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultRetentionWindow = 24 * time.Hour
	defaultCompletedKeep   = 1000
	defaultFailedKeep      = 5000
)

// Queue is a durable, at-least-once work queue over Redis, keyed and
// deduplicated by job id. Waiting entries are FIFO; retries sit in a delayed
// set until their backoff elapses.
type Queue struct {
	rdb    *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewQueue constructs a Queue over the given Redis client.
func NewQueue(rdb *redis.Client, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(2 * time.Second)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = defaultRetentionWindow
	}
	if cfg.CompletedKeep <= 0 {
		cfg.CompletedKeep = defaultCompletedKeep
	}
	if cfg.FailedKeep <= 0 {
		cfg.FailedKeep = defaultFailedKeep
	}
	return &Queue{rdb: rdb, cfg: cfg, logger: logger}
}

func (q *Queue) key(suffix string) string     { return q.cfg.Prefix + ":" + suffix }
func (q *Queue) entryKey(jobID string) string { return q.cfg.Prefix + ":entry:" + jobID }

// Enqueue admits a job. A job id already live in the queue (waiting, delayed
// or active) is a no-op reported as duplicate; that is the idempotence gate
// for client retries of the submission request.
func (q *Queue) Enqueue(ctx context.Context, p Payload, jobID string) (EnqueueResult, error) {
	added, err := q.rdb.SAdd(ctx, q.key("dedup"), jobID).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	if added == 0 {
		return EnqueueDuplicate, nil
	}

	now := time.Now()
	e := &Entry{
		JobID:       jobID,
		Prompt:      p.Prompt,
		Owner:       p.Owner,
		Attempts:    0,
		MaxAttempts: q.cfg.MaxAttempts,
		Deadline:    now.Add(q.cfg.JobTimeout),
		EnqueuedAt:  now,
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.entryKey(jobID), e.fields())
		pipe.RPush(ctx, q.key("waiting"), jobID)
		return nil
	})
	if err != nil {
		// Roll the dedup marker back so a later submission is not locked out.
		_ = q.rdb.SRem(ctx, q.key("dedup"), jobID).Err()
		return "", fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	q.logger.Debug().Str("job_id", jobID).Msg("queue: enqueued")
	return EnqueueAccepted, nil
}

// Dequeue blocks up to the poll interval for the next waiting entry, promotes
// due delayed entries first, and moves the claimed entry to the active set
// with its attempt counter bumped. Returns (nil, nil) when no work is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.cfg.PollInterval):
		}
		return nil, nil
	}

	res, err := q.rdb.BLPop(ctx, q.cfg.PollInterval, q.key("waiting")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	jobID := res[1]

	h, err := q.rdb.HGetAll(ctx, q.entryKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		// Entry data vanished underneath its waiting marker (canceled mid-pop).
		_ = q.rdb.SRem(ctx, q.key("dedup"), jobID).Err()
		return nil, nil
	}

	e := entryFromHash(h)
	e.Attempts++
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, q.key("active"), jobID)
		pipe.HSet(ctx, q.entryKey(jobID), "attempts", e.Attempts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Complete acknowledges a successful run. The entry payload is not retained;
// only the id survives in the completed set for counts and the cleanup sweep.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, q.key("active"), jobID)
		pipe.SRem(ctx, q.key("dedup"), jobID)
		pipe.Del(ctx, q.entryKey(jobID))
		pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
		return nil
	})
	return err
}

// Fail records a failed attempt. Below the attempt cap the entry is parked in
// the delayed set until its backoff elapses; at the cap it is terminal-failed
// and retained for inspection. Returns whether a retry was scheduled and the
// delay before it runs.
func (q *Queue) Fail(ctx context.Context, e *Entry, cause error) (retry bool, delay time.Duration, err error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if e.Attempts >= e.MaxAttempts {
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, q.key("active"), e.JobID)
			pipe.SRem(ctx, q.key("dedup"), e.JobID)
			pipe.HSet(ctx, q.entryKey(e.JobID), "last_error", msg)
			pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: e.JobID})
			return nil
		})
		return false, 0, err
	}

	delay = q.cfg.Backoff(e.Attempts)
	readyAt := time.Now().Add(delay)
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, q.key("active"), e.JobID)
		pipe.HSet(ctx, q.entryKey(e.JobID), map[string]any{
			"last_error": msg,
			// The deadline bounds one attempt's work; it is refreshed so the
			// backoff wait does not consume it.
			"deadline_ms": readyAt.Add(q.cfg.JobTimeout).UnixMilli(),
		})
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: e.JobID})
		return nil
	})
	return true, delay, err
}

// Cancel removes a waiting or delayed entry. An active entry is not preempted
// and a finished or unknown id reports not-found; callers decide what either
// outcome means for the job record.
func (q *Queue) Cancel(ctx context.Context, jobID string) (CancelResult, error) {
	removedWaiting, err := q.rdb.LRem(ctx, q.key("waiting"), 0, jobID).Result()
	if err != nil {
		return "", err
	}
	removedDelayed, err := q.rdb.ZRem(ctx, q.key("delayed"), jobID).Result()
	if err != nil {
		return "", err
	}
	if removedWaiting > 0 || removedDelayed > 0 {
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, q.key("dedup"), jobID)
			pipe.Del(ctx, q.entryKey(jobID))
			return nil
		})
		if err != nil {
			return "", err
		}
		q.logger.Info().Str("job_id", jobID).Msg("queue: canceled waiting entry")
		return CancelRemoved, nil
	}

	active, err := q.rdb.SIsMember(ctx, q.key("active"), jobID).Result()
	if err != nil {
		return "", err
	}
	if active {
		return CancelActive, nil
	}
	return CancelNotFound, nil
}

// IsQueued reports whether the job id has a live entry (waiting, delayed or
// active).
func (q *Queue) IsQueued(ctx context.Context, jobID string) (bool, error) {
	return q.rdb.SIsMember(ctx, q.key("dedup"), jobID).Result()
}

// Counts returns the aggregate state of the queue.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	waiting, err := q.rdb.LLen(ctx, q.key("waiting")).Result()
	if err != nil {
		return c, err
	}
	delayed, err := q.rdb.ZCard(ctx, q.key("delayed")).Result()
	if err != nil {
		return c, err
	}
	active, err := q.rdb.SCard(ctx, q.key("active")).Result()
	if err != nil {
		return c, err
	}
	completed, err := q.rdb.ZCard(ctx, q.key("completed")).Result()
	if err != nil {
		return c, err
	}
	failed, err := q.rdb.ZCard(ctx, q.key("failed")).Result()
	if err != nil {
		return c, err
	}
	c.Waiting = waiting + delayed
	c.Active = active
	c.Completed = completed
	c.Failed = failed
	return c, nil
}

// Pause stops workers from claiming new entries; in-flight runs finish.
func (q *Queue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.key("paused"), "1", 0).Err()
}

// Resume lifts a pause.
func (q *Queue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key("paused")).Err()
}

// IsPaused reports whether the queue is paused.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping verifies the backing store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// promoteDelayed moves entries whose backoff has elapsed back onto the
// waiting list, preserving FIFO order among the promoted batch.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, jobID := range due {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), jobID).Result()
		if err != nil {
			return err
		}
		// Another worker promoted it first.
		if removed == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, q.key("waiting"), jobID).Err(); err != nil {
			return err
		}
		q.logger.Debug().Str("job_id", jobID).Msg("queue: promoted delayed entry")
	}
	return nil
}

// Cleanup prunes completed and failed entries older than the retention window
// once either set exceeds its keep threshold. Failed entries also lose their
// retained payload hash. Returns how many entries were removed.
func (q *Queue) Cleanup(ctx context.Context) (int64, error) {
	horizon := strconv.FormatInt(time.Now().Add(-q.cfg.RetentionWindow).UnixMilli(), 10)
	var removed int64

	completed, err := q.rdb.ZCard(ctx, q.key("completed")).Result()
	if err != nil {
		return 0, err
	}
	if completed > int64(q.cfg.CompletedKeep) {
		n, err := q.rdb.ZRemRangeByScore(ctx, q.key("completed"), "-inf", horizon).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}

	failed, err := q.rdb.ZCard(ctx, q.key("failed")).Result()
	if err != nil {
		return removed, err
	}
	if failed > int64(q.cfg.FailedKeep) {
		stale, err := q.rdb.ZRangeByScore(ctx, q.key("failed"), &redis.ZRangeBy{Min: "-inf", Max: horizon}).Result()
		if err != nil {
			return removed, err
		}
		for _, jobID := range stale {
			_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, q.key("failed"), jobID)
				pipe.Del(ctx, q.entryKey(jobID))
				return nil
			})
			if err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		q.logger.Info().Int64("removed", removed).Msg("queue: cleanup sweep")
	}
	return removed, nil
}

// RunCleanup runs the sweep on a fixed interval until the context ends.
func (q *Queue) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Cleanup(ctx); err != nil {
				q.logger.Error().Err(err).Msg("queue: cleanup sweep failed")
			}
		}
	}
}
