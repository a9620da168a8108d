package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"previewd/internal/domain"
	"previewd/internal/queue"
)

// CodeGenerator turns a prompt into a filesystem artifact and returns the
// artifact directory.
type CodeGenerator interface {
	Generate(ctx context.Context, jobID, prompt string) (string, error)
}

// DeploymentTarget publishes an artifact under the given site name and
// returns the live URL.
type DeploymentTarget interface {
	Deploy(ctx context.Context, siteName, artifactDir string) (string, error)
}

// ArtifactReleaser tears down a job's generation artifact.
type ArtifactReleaser interface {
	Release(jobID string) error
}

// Options tunes the inner generation retry. The inner retry absorbs flaky
// template/filesystem errors without burning an outer queue attempt; it is a
// separate policy from the queue's exponential backoff on purpose.
type Options struct {
	GenAttempts int
	GenBackoff  queue.BackoffPolicy
	Tracer      trace.Tracer
}

// Pipeline executes the generate-then-deploy job body and keeps the preview
// record's state machine moving: building -> generating -> deploying -> live,
// with any failure landing on failed. Terminal writes are compare-and-set so
// a cancellation that already marked the record failed is never overwritten.
type Pipeline struct {
	store       domain.PreviewRepository
	generator   CodeGenerator
	target      DeploymentTarget
	artifacts   ArtifactReleaser
	genAttempts int
	genBackoff  queue.BackoffPolicy
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// New constructs a Pipeline.
func New(store domain.PreviewRepository, gen CodeGenerator, target DeploymentTarget, artifacts ArtifactReleaser, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.GenAttempts <= 0 {
		opts.GenAttempts = 3
	}
	if opts.GenBackoff == nil {
		opts.GenBackoff = queue.LinearBackoff(500 * time.Millisecond)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("pipeline")
	}
	return &Pipeline{
		store:       store,
		generator:   gen,
		target:      target,
		artifacts:   artifacts,
		genAttempts: opts.GenAttempts,
		genBackoff:  opts.GenBackoff,
		tracer:      opts.Tracer,
		logger:      logger,
	}
}

// Run executes one attempt for the entry. A returned error means the attempt
// failed and the queue layer decides whether to retry; nil means the job
// reached a terminal record state and the entry can be acked.
func (p *Pipeline) Run(ctx context.Context, e *queue.Entry) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("job.id", e.JobID), attribute.Int("job.attempt", e.Attempts)))
	defer span.End()

	if err := p.store.UpdateStatus(ctx, e.JobID, domain.StatusGenerating); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Record gone or already terminal (canceled before we started).
			p.logger.Info().Str("job_id", e.JobID).Msg("pipeline: record terminal before start, skipping")
			return nil
		}
		return p.fail(ctx, e, fmt.Sprintf("status update failed: %v", err), fmt.Errorf("mark generating: %w", err))
	}

	artifactDir, err := p.generate(ctx, e)
	if err != nil {
		return p.fail(ctx, e, fmt.Sprintf("generation failed: %v", err), err)
	}

	if err := p.store.UpdateStatus(ctx, e.JobID, domain.StatusDeploying); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.release(e.JobID)
			p.logger.Info().Str("job_id", e.JobID).Msg("pipeline: record terminal before deploy, skipping")
			return nil
		}
		return p.fail(ctx, e, fmt.Sprintf("status update failed: %v", err), fmt.Errorf("mark deploying: %w", err))
	}

	liveURL, err := p.deploy(ctx, e, artifactDir)
	if err != nil {
		return p.fail(ctx, e, fmt.Sprintf("deployment failed: %v", err), err)
	}

	won, err := p.store.FinishLive(ctx, e.JobID, liveURL)
	if err != nil {
		return p.fail(ctx, e, fmt.Sprintf("finalize failed: %v", err), fmt.Errorf("mark live: %w", err))
	}
	p.release(e.JobID)
	if !won {
		// Cancellation raced us and wrote failed first; its terminal state
		// sticks.
		p.logger.Warn().Str("job_id", e.JobID).Str("url", liveURL).Msg("pipeline: live result discarded, record already terminal")
		return nil
	}

	p.logger.Info().Str("job_id", e.JobID).Str("url", liveURL).Msg("pipeline: preview live")
	return nil
}

func (p *Pipeline) generate(ctx context.Context, e *queue.Entry) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= p.genAttempts; attempt++ {
		dir, err := p.generator.Generate(ctx, e.JobID, e.Prompt)
		if err == nil {
			return dir, nil
		}
		lastErr = err
		p.logger.Warn().Err(err).Str("job_id", e.JobID).Int("gen_attempt", attempt).Msg("pipeline: generation attempt failed")
		if attempt == p.genAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.genBackoff(attempt)):
		}
	}
	return "", lastErr
}

func (p *Pipeline) deploy(ctx context.Context, e *queue.Entry, artifactDir string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.deploy")
	defer span.End()

	liveURL, err := p.target.Deploy(ctx, SiteName(e.JobID), artifactDir)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(liveURL) == "" {
		return "", errors.New("deployment returned empty url")
	}
	return liveURL, nil
}

// fail releases the artifact and hands the cause back so the queue's retry
// policy can run the whole attempt again from the top. The record only turns
// terminally failed on the entry's last attempt: a failed record admits no
// further transitions, so writing it earlier would strand the retries.
func (p *Pipeline) fail(ctx context.Context, e *queue.Entry, message string, cause error) error {
	if e.Attempts >= e.MaxAttempts {
		// The attempt may have died on its deadline; the record write must not.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		won, err := p.store.FinishFailed(storeCtx, e.JobID, message)
		if err != nil {
			p.logger.Error().Err(err).Str("job_id", e.JobID).Msg("pipeline: failed to record failure")
		} else if !won {
			p.logger.Debug().Str("job_id", e.JobID).Msg("pipeline: record already terminal")
		}
	}
	p.release(e.JobID)
	return cause
}

func (p *Pipeline) release(jobID string) {
	if p.artifacts == nil {
		return
	}
	if err := p.artifacts.Release(jobID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: artifact release failed")
	}
}

// SiteName derives the deployment site name from the job id.
func SiteName(jobID string) string {
	name := strings.ToLower(strings.ReplaceAll(jobID, "_", "-"))
	return "preview-" + name
}
