package status

import (
	"context"

	"previewd/internal/domain"
	"previewd/internal/queue"
)

// QueueIntrospector is the slice of the queue the projector reads.
type QueueIntrospector interface {
	IsQueued(ctx context.Context, jobID string) (bool, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// View is the client-visible projection of one job: the stored record merged
// with queue placement while the job is still pending.
type View struct {
	Preview          *domain.Preview
	QueuePosition    *int
	EstimatedSeconds *int
}

// DefaultSecondsPerJob is the fixed heuristic used for wait estimates. It is
// not measured.
const DefaultSecondsPerJob = 30

// Projector answers polling reads by combining the preview store with queue
// introspection.
type Projector struct {
	store         domain.PreviewRepository
	queue         QueueIntrospector
	secondsPerJob int
}

// NewProjector builds a Projector. secondsPerJob <= 0 selects the default.
func NewProjector(store domain.PreviewRepository, q QueueIntrospector, secondsPerJob int) *Projector {
	if secondsPerJob <= 0 {
		secondsPerJob = DefaultSecondsPerJob
	}
	return &Projector{store: store, queue: q, secondsPerJob: secondsPerJob}
}

// Status projects the job. Position and estimate are present only while the
// record is non-terminal and the queue still holds a live entry for the id.
// The position is an upper-bound estimate from aggregate counts, not the
// job's exact FIFO rank.
func (p *Projector) Status(ctx context.Context, jobID string) (*View, error) {
	rec, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &View{Preview: rec}
	if rec.Status.IsTerminal() {
		return view, nil
	}

	queued, err := p.queue.IsQueued(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !queued {
		return view, nil
	}

	counts, err := p.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	pos := int(counts.Waiting+counts.Active) + 1
	est := pos * p.secondsPerJob
	view.QueuePosition = &pos
	view.EstimatedSeconds = &est
	return view, nil
}
