package comfy

import (
	"context"
	"log/slog"
)

// Publisher copies a rendered asset from the backend to durable public
// storage and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, sourceURL string) (string, error)
}

// Pipeline is the end-to-end image generation flow: submit, await, publish.
type Pipeline struct {
	client    *Client
	publisher Publisher
	progress  *ProgressListener
	logger    *slog.Logger
}

// NewPipeline wires a render client to a publisher. progress may be nil.
func NewPipeline(client *Client, publisher Publisher, progress *ProgressListener, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		client:    client,
		publisher: publisher,
		progress:  progress,
		logger:    logger.With("component", "pipeline"),
	}
}

// GenerateAndPublish runs submit → await → publish, short-circuiting on
// the first failing stage. The returned error is a *StageError naming the
// stage; a timeout surfaces as StagePoll wrapping ErrTimedOut.
func (p *Pipeline) GenerateAndPublish(ctx context.Context, prompt string) (string, error) {
	jobID, err := p.client.Submit(ctx, prompt)
	if err != nil {
		return "", &StageError{Stage: StageSubmit, Err: err}
	}

	if p.progress != nil {
		stop := p.progress.Watch(ctx, jobID)
		defer stop()
	}

	sourceURL, err := p.client.AwaitCompletion(ctx, jobID)
	if err != nil {
		return "", &StageError{Stage: StagePoll, Err: err}
	}

	publicURL, err := p.publisher.Publish(ctx, sourceURL)
	if err != nil {
		return "", &StageError{Stage: StagePublish, Err: err}
	}

	p.logger.Info("asset generated", "job", jobID, "url", publicURL)
	return publicURL, nil
}
