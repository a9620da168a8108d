package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidPrompt       = errors.New("prompt is required")
	ErrDuplicateJob        = errors.New("job already queued")
	ErrJobCanceled         = errors.New("job canceled by user")
	ErrQueueUnavailable    = errors.New("queue backend unavailable")
	ErrDeployNotConfigured = errors.New("deployment credential not configured")
)
