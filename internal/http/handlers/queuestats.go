package handlers

import (
	"net/http"

	"previewd/internal/domain"
)

// QueueStats exposes operational introspection of the queue.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Queue.Counts(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats: counts failed")
		a.error(w, http.StatusInternalServerError, "queue_unavailable", domain.ErrQueueUnavailable.Error())
		return
	}
	paused, err := a.Queue.IsPaused(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats: pause probe failed")
		a.error(w, http.StatusInternalServerError, "queue_unavailable", domain.ErrQueueUnavailable.Error())
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":  true,
		"counts":   counts,
		"isPaused": paused,
		"workers":  a.Workers,
	})
}
