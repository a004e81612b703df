package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/replicate/replicate-go"
)

// runFunc is the one SDK call we depend on. Tests swap it out.
type runFunc func(ctx context.Context, identifier string, input replicate.PredictionInput) (replicate.PredictionOutput, error)

// ReplicateGenerator runs a model on Replicate and waits for the result.
//
// client.Run creates the prediction and polls until it reaches a terminal
// state, so one Generate call is one blocking round of inference. The caller
// bounds it with ctx; there are no retries.
type ReplicateGenerator struct {
	model string
	run   runFunc
}

var _ Generator = (*ReplicateGenerator)(nil)

// ReplicateConfig configures NewReplicateGenerator.
type ReplicateConfig struct {
	Token string
	// Model is "owner/name" or "owner/name:version". Defaults to DefaultModel.
	Model string
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

// NewReplicateGenerator creates a generator backed by the Replicate API.
func NewReplicateGenerator(cfg ReplicateConfig) (*ReplicateGenerator, error) {
	if cfg.Token == "" {
		return nil, errors.New("inference: replicate API token is required")
	}

	opts := []replicate.ClientOption{replicate.WithToken(cfg.Token)}
	if cfg.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(cfg.BaseURL))
	}
	client, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("inference: creating replicate client: %w", err)
	}

	return newReplicateGenerator(cfg.Model, func(ctx context.Context, id string, in replicate.PredictionInput) (replicate.PredictionOutput, error) {
		return client.Run(ctx, id, in, nil)
	}), nil
}

func newReplicateGenerator(model string, run runFunc) *ReplicateGenerator {
	if model == "" {
		model = DefaultModel
	}
	return &ReplicateGenerator{model: model, run: run}
}

// Model returns the model identifier predictions run against.
func (g *ReplicateGenerator) Model() string {
	return g.model
}

// Generate implements Generator.
//
// Only prompt, num_outputs and aspect_ratio are sent. HDR is a stored
// preference; the model has no input for it.
func (g *ReplicateGenerator) Generate(ctx context.Context, req Request) ([]string, error) {
	input := replicate.PredictionInput{
		"prompt":       req.Prompt,
		"num_outputs":  req.Settings.NumOutputs,
		"aspect_ratio": req.Settings.AspectRatio,
	}

	output, err := g.run(ctx, g.model, input)
	if err != nil {
		return nil, &Error{Model: g.model, Err: err}
	}

	urls := NormalizeOutput(output)
	if len(urls) == 0 {
		return nil, ErrNoImages
	}
	return urls, nil
}
