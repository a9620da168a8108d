package domain

import "context"

// PreviewRepository defines persistence for preview records.
type PreviewRepository interface {
	Create(ctx context.Context, p *Preview) error
	GetByID(ctx context.Context, id string) (*Preview, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]Preview, error)

	// Delete rolls back a submission whose enqueue failed. Records are never
	// deleted once a job has been admitted to the queue.
	Delete(ctx context.Context, id string) error

	// UpdateStatus records a non-terminal phase transition.
	UpdateStatus(ctx context.Context, id string, status PreviewStatus) error

	// FinishLive and FinishFailed write a terminal outcome. Both are
	// compare-and-set: they succeed only while the record is still
	// non-terminal and report whether the write won.
	FinishLive(ctx context.Context, id, liveURL string) (bool, error)
	FinishFailed(ctx context.Context, id, errMsg string) (bool, error)
}
