package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspaces hands out per-job scratch directories for generation artifacts
// and tears them down once a job reaches a terminal outcome.
type Workspaces struct {
	basePath string
}

// NewWorkspaces initializes a workspace root at basePath.
func NewWorkspaces(basePath string) (*Workspaces, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &Workspaces{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (w *Workspaces) BasePath() string {
	if w == nil {
		return ""
	}
	return w.basePath
}

// Create makes (or empties) the directory for the given job and returns its
// absolute path.
func (w *Workspaces) Create(jobID string) (string, error) {
	dir, err := w.dirFor(jobID)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("storage: reset workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create workspace: %w", err)
	}
	return dir, nil
}

// Release deletes the job's workspace. Best-effort by contract: callers must
// not let a release failure mask the job's outcome.
func (w *Workspaces) Release(jobID string) error {
	dir, err := w.dirFor(jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// dirFor sanitizes the job id into a single path element under the root so a
// hostile id cannot escape the workspace tree.
func (w *Workspaces) dirFor(jobID string) (string, error) {
	if w == nil {
		return "", errors.New("storage: no workspace root configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", errors.New("storage: job id is required")
	}
	cleaned := filepath.Base(filepath.Clean(jobID))
	if cleaned == "." || cleaned == ".." || cleaned != jobID {
		return "", fmt.Errorf("storage: invalid job id %q", jobID)
	}
	return filepath.Join(w.basePath, cleaned), nil
}
