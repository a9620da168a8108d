package queue

import (
	"strconv"
	"time"
)

// Entry is the ephemeral scheduling unit for one preview job. It lives in the
// queue's Redis keyspace, never in the preview store; the job id ties the two
// together and doubles as the dedup key.
type Entry struct {
	JobID       string
	Prompt      string
	Owner       string
	Attempts    int
	MaxAttempts int
	Deadline    time.Time
	EnqueuedAt  time.Time
	LastError   string
}

// Payload is the job input carried through the queue.
type Payload struct {
	Prompt string `json:"prompt"`
	Owner  string `json:"owner"`
}

func (e *Entry) fields() map[string]any {
	return map[string]any{
		"job_id":       e.JobID,
		"prompt":       e.Prompt,
		"owner":        e.Owner,
		"attempts":     e.Attempts,
		"max_attempts": e.MaxAttempts,
		"deadline_ms":  e.Deadline.UnixMilli(),
		"enqueued_ms":  e.EnqueuedAt.UnixMilli(),
		"last_error":   e.LastError,
	}
}

func entryFromHash(h map[string]string) *Entry {
	e := &Entry{
		JobID:     h["job_id"],
		Prompt:    h["prompt"],
		Owner:     h["owner"],
		LastError: h["last_error"],
	}
	e.Attempts, _ = strconv.Atoi(h["attempts"])
	e.MaxAttempts, _ = strconv.Atoi(h["max_attempts"])
	if ms, err := strconv.ParseInt(h["deadline_ms"], 10, 64); err == nil {
		e.Deadline = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(h["enqueued_ms"], 10, 64); err == nil {
		e.EnqueuedAt = time.UnixMilli(ms)
	}
	return e
}
