package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"previewd/internal/domain"
)

// PreviewRepositoryPG implements domain.PreviewRepository.
type PreviewRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPreviewRepository creates a new preview repository backed by PostgreSQL.
func NewPreviewRepository(pool *pgxpool.Pool) *PreviewRepositoryPG {
	return &PreviewRepositoryPG{pool: pool}
}

// EnsureSchema creates the previews table if it does not exist yet.
func (r *PreviewRepositoryPG) EnsureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS previews (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    owner TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('building','generating','deploying','live','failed')),
    live_url TEXT,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_previews_owner_created ON previews (owner, created_at DESC);
`
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Create inserts a new preview record.
func (r *PreviewRepositoryPG) Create(ctx context.Context, p *domain.Preview) error {
	query := `
INSERT INTO previews (id, prompt, owner, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Prompt,
		p.Owner,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

// Delete removes a record outright. Only used to roll back a submission whose
// enqueue failed; completed jobs are never deleted.
func (r *PreviewRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM previews WHERE id = $1;`, id)
	return err
}

// priorStatuses lists the states allowed to transition into next, per the
// state machine's forward-only order.
func priorStatuses(next domain.PreviewStatus) []string {
	all := []domain.PreviewStatus{
		domain.StatusBuilding,
		domain.StatusGenerating,
		domain.StatusDeploying,
		domain.StatusLive,
		domain.StatusFailed,
	}
	var out []string
	for _, s := range all {
		if s.CanTransitionTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// UpdateStatus records a non-terminal phase transition. The write only lands
// when the current status precedes the new one, so status never moves
// backward; a retry attempt re-entering an earlier phase is a silent no-op.
// ErrNotFound means the record is gone or already terminal.
func (r *PreviewRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.PreviewStatus) error {
	query := `
UPDATE previews
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = ANY($3);
`
	tag, err := r.pool.Exec(ctx, query, id, status, priorStatuses(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current domain.PreviewStatus
	row := r.pool.QueryRow(ctx, `SELECT status FROM previews WHERE id = $1;`, id)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if current.IsTerminal() {
		return domain.ErrNotFound
	}
	return nil
}

// FinishLive writes the live outcome if the record is still non-terminal.
func (r *PreviewRepositoryPG) FinishLive(ctx context.Context, id, liveURL string) (bool, error) {
	query := `
UPDATE previews
SET status = 'live', live_url = $2, error_message = NULL, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('live','failed');
`
	tag, err := r.pool.Exec(ctx, query, id, liveURL)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FinishFailed writes the failed outcome if the record is still non-terminal.
func (r *PreviewRepositoryPG) FinishFailed(ctx context.Context, id, errMsg string) (bool, error) {
	query := `
UPDATE previews
SET status = 'failed', error_message = $2, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('live','failed');
`
	tag, err := r.pool.Exec(ctx, query, id, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches a preview by its identifier.
func (r *PreviewRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Preview, error) {
	query := `
SELECT id, prompt, owner, status, COALESCE(live_url, ''), COALESCE(error_message, ''), created_at, updated_at
FROM previews
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.Preview
	if err := row.Scan(
		&p.ID,
		&p.Prompt,
		&p.Owner,
		&p.Status,
		&p.LiveURL,
		&p.ErrorMessage,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByOwner returns an owner's previews, newest first.
func (r *PreviewRepositoryPG) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Preview, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, prompt, owner, status, COALESCE(live_url, ''), COALESCE(error_message, ''), created_at, updated_at
FROM previews
WHERE owner = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Preview
	for rows.Next() {
		var p domain.Preview
		if err := rows.Scan(
			&p.ID,
			&p.Prompt,
			&p.Owner,
			&p.Status,
			&p.LiveURL,
			&p.ErrorMessage,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PreviewRepository = (*PreviewRepositoryPG)(nil)
