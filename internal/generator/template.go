package generator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"previewd/internal/storage"
)

// TemplateGenerator produces a site artifact by copying a static template
// tree into the job's workspace. It stands in for a real code generator
// behind the same capability surface, so swapping the backend never touches
// the pipeline.
type TemplateGenerator struct {
	templateDir string
	workspaces  *storage.Workspaces
	logger      zerolog.Logger
}

// NewTemplateGenerator configures a generator reading from templateDir.
func NewTemplateGenerator(templateDir string, workspaces *storage.Workspaces, logger zerolog.Logger) (*TemplateGenerator, error) {
	if templateDir == "" {
		return nil, errors.New("generator: template dir is required")
	}
	if workspaces == nil {
		return nil, errors.New("generator: workspaces are required")
	}
	return &TemplateGenerator{templateDir: templateDir, workspaces: workspaces, logger: logger}, nil
}

// Generate copies the template into a fresh workspace for the job and returns
// the artifact directory. The prompt is recorded alongside the artifact for
// traceability; it does not influence the stub output.
func (g *TemplateGenerator) Generate(ctx context.Context, jobID, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(g.templateDir)
	if err != nil {
		return "", fmt.Errorf("generator: template dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("generator: template path %s is not a directory", g.templateDir)
	}

	dir, err := g.workspaces.Create(jobID)
	if err != nil {
		return "", err
	}

	if err := os.CopyFS(dir, os.DirFS(g.templateDir)); err != nil {
		_ = g.workspaces.Release(jobID)
		return "", fmt.Errorf("generator: copy template: %w", err)
	}

	if err := os.WriteFile(dir+"/.prompt", []byte(prompt), 0o644); err != nil {
		_ = g.workspaces.Release(jobID)
		return "", fmt.Errorf("generator: record prompt: %w", err)
	}

	g.logger.Debug().Str("job_id", jobID).Str("artifact", dir).Msg("generator: artifact ready")
	return dir, nil
}
