package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"previewd/internal/domain"
	"previewd/internal/queue"
	"previewd/internal/status"
)

// JobQueue is the slice of the queue the HTTP tier touches.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.Payload, jobID string) (queue.EnqueueResult, error)
	Cancel(ctx context.Context, jobID string) (queue.CancelResult, error)
	Counts(ctx context.Context) (queue.Counts, error)
	IsPaused(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// DBPinger checks preview-store connectivity for the health endpoint.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// App carries the handler dependencies.
type App struct {
	Store     domain.PreviewRepository
	Queue     JobQueue
	Projector *status.Projector
	DB        DBPinger
	Workers   int
	Logger    zerolog.Logger
}

// NewApp builds the handler container.
func NewApp(store domain.PreviewRepository, q JobQueue, projector *status.Projector, db DBPinger, workers int, logger zerolog.Logger) *App {
	return &App{Store: store, Queue: q, Projector: projector, DB: db, Workers: workers, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   errCode,
		"message": message,
	})
}
