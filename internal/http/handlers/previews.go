package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"previewd/internal/domain"
	"previewd/internal/queue"
)

type submitRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

// Submit validates the prompt, creates the preview record in the building
// state and admits the job to the queue. The response returns immediately;
// clients observe progress by polling the status URL.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "validation_error", domain.ErrInvalidPrompt.Error())
		return
	}

	p := domain.NewPreview(req.Prompt, req.UserID)
	if err := a.Store.Create(r.Context(), p); err != nil {
		a.Logger.Error().Err(err).Msg("submit: create record failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	res, err := a.Queue.Enqueue(r.Context(), queue.Payload{Prompt: p.Prompt, Owner: p.Owner}, p.ID)
	if err != nil {
		// Do not strand a permanently-building record behind a dead queue.
		if delErr := a.Store.Delete(r.Context(), p.ID); delErr != nil {
			a.Logger.Error().Err(delErr).Str("job_id", p.ID).Msg("submit: rollback failed")
		}
		a.Logger.Error().Err(err).Str("job_id", p.ID).Msg("submit: enqueue failed")
		a.error(w, http.StatusInternalServerError, "queue_unavailable", domain.ErrQueueUnavailable.Error())
		return
	}
	// A dedup hit on a freshly generated id cannot normally happen; either
	// way the job is admitted exactly once.
	if res == queue.EnqueueDuplicate {
		a.Logger.Warn().Str("job_id", p.ID).Msg("submit: duplicate enqueue for fresh id")
	}

	a.json(w, http.StatusAccepted, submitResponse{
		Success:   true,
		JobID:     p.ID,
		Status:    string(p.Status),
		StatusURL: fmt.Sprintf("/api/preview/%s/status", p.ID),
	})
}

type statusResponse struct {
	Success       bool      `json:"success"`
	JobID         string    `json:"jobId"`
	Prompt        string    `json:"prompt"`
	Owner         string    `json:"owner"`
	Status        string    `json:"status"`
	LiveURL       *string   `json:"liveUrl"`
	Error         *string   `json:"error"`
	QueuePosition *int      `json:"queuePosition,omitempty"`
	EstimatedTime *int      `json:"estimatedTime,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Status serves the polled view of one job.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view, err := a.Projector.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status: projection failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load status")
		return
	}

	p := view.Preview
	resp := statusResponse{
		Success:       true,
		JobID:         p.ID,
		Prompt:        p.Prompt,
		Owner:         p.Owner,
		Status:        string(p.Status),
		QueuePosition: view.QueuePosition,
		EstimatedTime: view.EstimatedSeconds,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.LiveURL != "" {
		resp.LiveURL = &p.LiveURL
	}
	if p.ErrorMessage != "" {
		resp.Error = &p.ErrorMessage
	}
	a.json(w, http.StatusOK, resp)
}

// Cancel marks the job failed and removes a waiting queue entry. An entry
// already being worked on is not preempted; the compare-and-set on the record
// keeps a late success from overwriting the cancellation.
func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	p, err := a.Store.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("cancel: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if p.Status.IsTerminal() {
		a.error(w, http.StatusConflict, "already_finished", "job already reached a terminal state")
		return
	}

	res, err := a.Queue.Cancel(r.Context(), jobID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("cancel: queue removal failed")
		a.error(w, http.StatusInternalServerError, "queue_unavailable", domain.ErrQueueUnavailable.Error())
		return
	}

	won, err := a.Store.FinishFailed(r.Context(), jobID, domain.ErrJobCanceled.Error())
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("cancel: record update failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	if !won {
		// The job reached a terminal state between our check and the write.
		a.error(w, http.StatusConflict, "already_finished", "job already reached a terminal state")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"jobId":   jobID,
		"status":  string(domain.StatusFailed),
		"removed": res == queue.CancelRemoved,
	})
}

// ListByOwner returns an owner's jobs, newest first.
func (a *App) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "userID")
	if owner == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userID required")
		return
	}

	previews, err := a.Store.ListByOwner(r.Context(), owner, 50)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner", owner).Msg("list: query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}

	items := make([]map[string]any, 0, len(previews))
	for _, p := range previews {
		item := map[string]any{
			"jobId":     p.ID,
			"prompt":    p.Prompt,
			"status":    string(p.Status),
			"createdAt": p.CreatedAt,
			"updatedAt": p.UpdatedAt,
		}
		if p.LiveURL != "" {
			item["liveUrl"] = p.LiveURL
		}
		if p.ErrorMessage != "" {
			item["error"] = p.ErrorMessage
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "items": items})
}
